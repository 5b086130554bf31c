package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/mrjoshuak/go-blosc"
	"github.com/pierrec/lz4/v4"
)

// CodecID is the "id" of a compressor configuration.
type CodecID string

const (
	CodecBlosc CodecID = "blosc"
	CodecZstd  CodecID = "zstd"
	CodecZlib  CodecID = "zlib"
	CodecGzip  CodecID = "gzip"
	CodecLZ4   CodecID = "lz4"
)

// ParseCodecID validates a compressor id.
func ParseCodecID(s string) (CodecID, error) {
	switch id := CodecID(s); id {
	case CodecBlosc, CodecZstd, CodecZlib, CodecGzip, CodecLZ4:
		return id, nil
	default:
		return "", fmt.Errorf("%w: id %q", ErrUnsupportedConfig, s)
	}
}

// Cname is the internal codec used by a blosc compressor.
type Cname string

const (
	CnameBloscLZ Cname = "blosclz"
	CnameLZ4     Cname = "lz4"
	CnameLZ4HC   Cname = "lz4hc"
	CnameSnappy  Cname = "snappy"
	CnameZlib    Cname = "zlib"
	CnameZstd    Cname = "zstd"
)

// ParseCname validates a blosc codec name.
func ParseCname(s string) (Cname, error) {
	switch c := Cname(s); c {
	case CnameBloscLZ, CnameLZ4, CnameLZ4HC, CnameSnappy, CnameZlib, CnameZstd:
		return c, nil
	default:
		return "", fmt.Errorf("%w: cname %q", ErrUnsupportedConfig, s)
	}
}

func (c Cname) codec() blosc.Codec {
	switch c {
	case CnameLZ4:
		return blosc.LZ4
	case CnameLZ4HC:
		return blosc.LZ4HC
	case CnameSnappy:
		return blosc.Snappy
	case CnameZlib:
		return blosc.ZLIB
	case CnameZstd:
		return blosc.ZSTD
	default:
		return blosc.BloscLZ
	}
}

// ShuffleMode is the blosc pre-compression byte reordering.
type ShuffleMode int

const (
	NoShuffle   ShuffleMode = 0
	ByteShuffle ShuffleMode = 1
	BitShuffle  ShuffleMode = 2
)

// ParseShuffle validates a blosc shuffle mode.
func ParseShuffle(n int) (ShuffleMode, error) {
	switch m := ShuffleMode(n); m {
	case NoShuffle, ByteShuffle, BitShuffle:
		return m, nil
	default:
		return 0, fmt.Errorf("%w: shuffle %d", ErrUnsupportedConfig, n)
	}
}

func (m ShuffleMode) shuffle() blosc.Shuffle {
	switch m {
	case ByteShuffle:
		return blosc.Shuffle1
	case BitShuffle:
		return blosc.BitShuffle
	default:
		return blosc.NoShuffle
	}
}

// CompressorConfig represents the Zarr compressor metadata.
//
// Blosc configurations use Cname, Clevel, Shuffle and Blocksize. The
// stand-alone zstd, zlib and gzip codecs use Level and lz4 uses
// Acceleration; both are nil when absent from the descriptor.
type CompressorConfig struct {
	ID           CodecID
	Cname        Cname
	Clevel       int
	Shuffle      ShuffleMode
	Blocksize    int
	Level        *int
	Acceleration *int
}

type compressorFields struct {
	ID           *string `json:"id"`
	Cname        *string `json:"cname"`
	Clevel       *int    `json:"clevel"`
	Shuffle      *int    `json:"shuffle"`
	Blocksize    *int    `json:"blocksize"`
	Level        *int    `json:"level"`
	Acceleration *int    `json:"acceleration"`
}

// UnmarshalJSON decodes and validates a compressor object, so an
// unsupported configuration is rejected while the descriptor is parsed.
func (c *CompressorConfig) UnmarshalJSON(data []byte) error {
	var f compressorFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.ID == nil {
		return fmt.Errorf("%w: missing id", ErrUnsupportedConfig)
	}
	id, err := ParseCodecID(*f.ID)
	if err != nil {
		return err
	}

	cfg := CompressorConfig{ID: id, Level: f.Level, Acceleration: f.Acceleration}
	if id == CodecBlosc {
		switch {
		case f.Cname == nil:
			return fmt.Errorf("%w: missing blosc cname", ErrUnsupportedConfig)
		case f.Clevel == nil:
			return fmt.Errorf("%w: missing blosc clevel", ErrUnsupportedConfig)
		case f.Shuffle == nil:
			return fmt.Errorf("%w: missing blosc shuffle", ErrUnsupportedConfig)
		case f.Blocksize == nil:
			return fmt.Errorf("%w: missing blosc blocksize", ErrUnsupportedConfig)
		}
		cfg.Cname = Cname(*f.Cname)
		cfg.Clevel = *f.Clevel
		cfg.Shuffle = ShuffleMode(*f.Shuffle)
		cfg.Blocksize = *f.Blocksize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	*c = cfg
	return nil
}

type bloscFields struct {
	Blocksize int         `json:"blocksize"`
	Clevel    int         `json:"clevel"`
	Cname     Cname       `json:"cname"`
	ID        CodecID     `json:"id"`
	Shuffle   ShuffleMode `json:"shuffle"`
}

type levelFields struct {
	ID    CodecID `json:"id"`
	Level *int    `json:"level,omitempty"`
}

type lz4Fields struct {
	Acceleration *int    `json:"acceleration,omitempty"`
	ID           CodecID `json:"id"`
}

// MarshalJSON writes only the fields meaningful for the codec id, keys sorted.
func (c CompressorConfig) MarshalJSON() ([]byte, error) {
	switch c.ID {
	case CodecBlosc:
		return json.Marshal(bloscFields{
			Blocksize: c.Blocksize,
			Clevel:    c.Clevel,
			Cname:     c.Cname,
			ID:        c.ID,
			Shuffle:   c.Shuffle,
		})
	case CodecLZ4:
		return json.Marshal(lz4Fields{Acceleration: c.Acceleration, ID: c.ID})
	default:
		return json.Marshal(levelFields{ID: c.ID, Level: c.Level})
	}
}

// Validate checks every field against the supported enumerations.
func (c CompressorConfig) Validate() error {
	if _, err := ParseCodecID(string(c.ID)); err != nil {
		return err
	}
	switch c.ID {
	case CodecBlosc:
		if _, err := ParseCname(string(c.Cname)); err != nil {
			return err
		}
		if c.Clevel < 1 || c.Clevel > 9 {
			return fmt.Errorf("%w: clevel %d not in [1,9]", ErrUnsupportedConfig, c.Clevel)
		}
		if _, err := ParseShuffle(int(c.Shuffle)); err != nil {
			return err
		}
		if c.Blocksize < 0 {
			return fmt.Errorf("%w: blocksize %d", ErrUnsupportedConfig, c.Blocksize)
		}
	case CodecZstd:
		if c.Level != nil && (*c.Level < 1 || *c.Level > 22) {
			return fmt.Errorf("%w: zstd level %d not in [1,22]", ErrUnsupportedConfig, *c.Level)
		}
	case CodecZlib, CodecGzip:
		if c.Level != nil && (*c.Level < 0 || *c.Level > 9) {
			return fmt.Errorf("%w: %s level %d not in [0,9]", ErrUnsupportedConfig, c.ID, *c.Level)
		}
	case CodecLZ4:
		if c.Acceleration != nil && *c.Acceleration < 1 {
			return fmt.Errorf("%w: lz4 acceleration %d", ErrUnsupportedConfig, *c.Acceleration)
		}
	}
	return nil
}

func (c CompressorConfig) String() string {
	if c.ID == CodecBlosc {
		return fmt.Sprintf("blosc(cname=%s, clevel=%d, shuffle=%d, blocksize=%d)", c.Cname, c.Clevel, c.Shuffle, c.Blocksize)
	}
	return string(c.ID)
}

// Compressor compresses and decompresses whole chunks.
type Compressor interface {
	// Compress encodes data; typeSize is the array item size, used by
	// codecs that shuffle bytes.
	Compress(data []byte, typeSize int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Resolve maps a compressor configuration to a Compressor.
func Resolve(cfg CompressorConfig) (Compressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.ID {
	case CodecBlosc:
		return &bloscCompressor{opts: blosc.Options{
			Codec:     cfg.Cname.codec(),
			Level:     cfg.Clevel,
			Shuffle:   cfg.Shuffle.shuffle(),
			BlockSize: cfg.Blocksize,
		}}, nil
	case CodecZstd:
		return &zstdCompressor{level: zstd.EncoderLevelFromZstd(levelOr(cfg.Level, 1))}, nil
	case CodecZlib:
		return &zlibCompressor{level: levelOr(cfg.Level, 1)}, nil
	case CodecGzip:
		return &gzipCompressor{level: levelOr(cfg.Level, 1)}, nil
	case CodecLZ4:
		return lz4Compressor{}, nil
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnsupportedConfig, cfg.ID)
}

func levelOr(level *int, def int) int {
	if level == nil {
		return def
	}
	return *level
}

const maxBloscTypeSize = 255

type bloscCompressor struct {
	opts blosc.Options
}

func (c *bloscCompressor) Compress(data []byte, typeSize int) ([]byte, error) {
	opts := c.opts
	opts.TypeSize = typeSize
	if typeSize > maxBloscTypeSize {
		// The frame header stores the type size in one byte.
		opts.TypeSize = 1
	}
	out, err := blosc.CompressWithOptions(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: blosc %s: %w", ErrCompressionFailed, opts.Codec, err)
	}

	// A memcpy frame holds the unshuffled input, so it must not carry a
	// shuffle flag or readers would unshuffle raw bytes.
	if opts.Shuffle != blosc.NoShuffle {
		if header, err := blosc.GetInfo(out); err == nil && header.IsMemcpy() {
			opts.Shuffle = blosc.NoShuffle
			if out, err = blosc.CompressWithOptions(data, opts); err != nil {
				return nil, fmt.Errorf("%w: blosc %s: %w", ErrCompressionFailed, opts.Codec, err)
			}
		}
	}
	return out, nil
}

// Decompress reads codec, shuffle and sizes from the blosc header.
func (c *bloscCompressor) Decompress(data []byte) ([]byte, error) {
	return blosc.Decompress(data)
}

// zstdDecoder is shared; zstd.Decoder is safe for concurrent use.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("zarr: zstd decoder initialization failed: " + err.Error())
	}
}

type zstdCompressor struct {
	level zstd.EncoderLevel
}

func (c *zstdCompressor) Compress(data []byte, _ int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCompressionFailed, err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type zlibCompressor struct {
	level int
}

func (c *zlibCompressor) Compress(data []byte, _ int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCompressor) Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

type gzipCompressor struct {
	level int
}

func (c *gzipCompressor) Compress(data []byte, _ int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

// lz4Compressor writes LZ4 blocks prefixed with the decoded size as a
// little-endian uint32. Acceleration only tunes the encoder speed and is
// not needed to decode, so it is accepted and not applied.
type lz4Compressor struct{}

const lz4SizeHeader = 4

func (lz4Compressor) Compress(data []byte, _ int) ([]byte, error) {
	out := make([]byte, lz4SizeHeader+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))
	n, err := lz4.CompressBlock(data, out[lz4SizeHeader:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %w", ErrCompressionFailed, err)
	}
	if n == 0 && len(data) > 0 {
		return nil, fmt.Errorf("%w: lz4: empty block for %d bytes", ErrCompressionFailed, len(data))
	}
	return out[:lz4SizeHeader+n], nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < lz4SizeHeader {
		return nil, fmt.Errorf("lz4 decompress: %d bytes is shorter than the size header", len(data))
	}
	size := int(binary.LittleEndian.Uint32(data))
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[lz4SizeHeader:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return out, nil
}
