// pgfibertools: pangenome identifier and tag tools for SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

// Package bgzf implements parallel reading and writing of BGZF files,
// the blocked gzip format underlying BAM files. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.1.
//
// Blocks are inflated and deflated by pargo pipelines that run in
// parallel, while the order of the blocks is preserved.
package bgzf

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
)

// Compression levels accepted by NewWriterLevel.
const (
	NoCompression      = flate.NoCompression
	BestSpeed          = flate.BestSpeed
	BestCompression    = flate.BestCompression
	DefaultCompression = flate.DefaultCompression
)

// IsGzip determines if the the given byte scanner produces
// a gzip file. It uses ReadByte and UnreadByte to check
// only the initial byte from the input.
func IsGzip(scanner io.ByteScanner) (bool, error) {
	b, err := scanner.ReadByte()
	if err != nil {
		return false, err
	}
	if err := scanner.UnreadByte(); err != nil {
		return false, err
	}
	return b == 0x1f, nil
}

const (
	// maxBlockSize is the maximum size of a compressed BGZF block.
	maxBlockSize = 65536

	// maxDataSize is the maximum number of uncompressed bytes per
	// block. It leaves room for the DEFLATE framing of stored blocks,
	// so that uncompressed output also fits in maxBlockSize.
	maxDataSize = 0xff00

	headerSize  = 18
	trailerSize = 8
)

// eofMarker is the empty block that terminates a BGZF file.
var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// block is one block of BGZF data, either compressed or uncompressed.
type block struct {
	data  []byte
	crc32 uint32
	size  uint32
}

var blockPool = sync.Pool{New: func() interface{} {
	return &block{data: make([]byte, 0, maxBlockSize)}
}}

func getBlock() *block {
	b := blockPool.Get().(*block)
	b.data = b.data[:0]
	return b
}

type (
	// Reader reads in parallel from a BGZF file.
	Reader struct {
		err       error
		r         io.Reader
		gz        *gzip.Reader
		p         pipeline.Pipeline
		wait      sync.WaitGroup
		blocks    chan *block
		closeOnce sync.Once
		ctx       context.Context
		cancel    context.CancelFunc
		data      interface{}
		current   *block
		index     int
	}

	// readerSource is the pipeline.Source view of a Reader that
	// fetches compressed blocks.
	readerSource Reader
)

func (src *readerSource) readBlock() (*block, error) {
	extra := src.gz.Extra
	for i := 0; i+4 <= len(extra); {
		slen := int(binary.LittleEndian.Uint16(extra[i+2 : i+4]))
		if extra[i] == 'B' && extra[i+1] == 'C' && slen == 2 && i+6 <= len(extra) {
			bsize := int(binary.LittleEndian.Uint16(extra[i+4 : i+6]))
			cdataSize := bsize - len(extra) - 19
			if cdataSize < 0 || cdataSize > maxBlockSize {
				return nil, fmt.Errorf("invalid BGZF block size %v", bsize)
			}
			b := getBlock()
			b.data = b.data[:cdataSize]
			if _, err := io.ReadFull(src.r, b.data); err != nil {
				return nil, err
			}
			var tail [trailerSize]byte
			if _, err := io.ReadFull(src.r, tail[:]); err != nil {
				return nil, err
			}
			b.crc32 = binary.LittleEndian.Uint32(tail[0:4])
			b.size = binary.LittleEndian.Uint32(tail[4:8])
			if b.size > maxBlockSize {
				return nil, fmt.Errorf("invalid uncompressed BGZF block size %v", b.size)
			}
			err := src.gz.Reset(src.r)
			switch {
			case err == io.EOF:
				if b.size != 0 {
					err = errors.New("invalid BGZF file: does not end in proper EOF marker")
				}
			case err != nil:
				err = fmt.Errorf("%w, while reading a BGZF block header", err)
			}
			return b, err
		}
		i += 4 + slen
	}
	return nil, errors.New("missing BC extra subfield in BGZF header")
}

// Err implements the corresponding method of pipeline.Source
func (src *readerSource) Err() error {
	if src.err != io.EOF {
		return src.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (*readerSource) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (src *readerSource) Fetch(_ int) (fetched int) {
	if src.err != nil {
		return 0
	}
	b, err := src.readBlock()
	src.err = err
	if b == nil {
		src.data = nil
		return 0
	}
	src.data = b
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (src *readerSource) Data() interface{} {
	return src.data
}

var flateReaderPool sync.Pool

func inflate(compressed *block) (*block, error) {
	blockReader := bytes.NewReader(compressed.data)
	var flateReader io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		flateReader = flate.NewReader(blockReader)
	} else {
		flateReader = pooled.(io.ReadCloser)
		if err := flateReader.(flate.Resetter).Reset(blockReader, nil); err != nil {
			flateReader = flate.NewReader(blockReader)
		}
	}
	defer flateReaderPool.Put(flateReader)
	uncompressed := getBlock()
	uncompressed.data = uncompressed.data[:int(compressed.size)]
	if _, err := io.ReadFull(flateReader, uncompressed.data); err == io.EOF {
		return uncompressed, io.ErrUnexpectedEOF
	} else if err != nil {
		return uncompressed, err
	}
	if crc32.ChecksumIEEE(uncompressed.data) != compressed.crc32 {
		return uncompressed, errors.New("invalid CRC-32 value for a data block in a BGZF file")
	}
	return uncompressed, flateReader.Close()
}

// NewReader returns a Reader for the given flate.Reader. Blocks are
// inflated in parallel in the background until the Reader is closed.
func NewReader(r flate.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w, while opening a BGZF reader", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	bgzf := &Reader{
		r:      r,
		gz:     gz,
		blocks: make(chan *block, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	bgzf.p.Source((*readerSource)(bgzf))
	bgzf.p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			compressed := data.(*block)
			uncompressed, err := inflate(compressed)
			if err != nil {
				bgzf.p.SetErr(err)
			}
			blockPool.Put(compressed)
			return uncompressed
		})),
		pipeline.StrictOrd(pipeline.ReceiveAndFinalize(func(_ int, data interface{}) interface{} {
			select {
			case <-bgzf.ctx.Done():
			case bgzf.blocks <- data.(*block):
			}
			return nil
		}, bgzf.closeBlocks)),
	)
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		defer bgzf.closeBlocks()
		bgzf.p.Run()
	}()
	return bgzf, nil
}

func (bgzf *Reader) closeBlocks() {
	bgzf.closeOnce.Do(func() { close(bgzf.blocks) })
}

// Close implements the corresponding method of io.Closer
func (bgzf *Reader) Close() error {
	bgzf.cancel()
	bgzf.wait.Wait()
	if err := bgzf.gz.Close(); err != nil {
		return err
	}
	return bgzf.p.Err()
}

func (bgzf *Reader) nextBlock() error {
	b, ok := <-bgzf.blocks
	if !ok {
		bgzf.wait.Wait()
		if err := bgzf.p.Err(); err != nil {
			return err
		}
		if err := (*readerSource)(bgzf).Err(); err != nil {
			return err
		}
		return io.EOF
	}
	bgzf.current, bgzf.index = b, 0
	return nil
}

// Read implements the corresponding method of io.Reader
func (bgzf *Reader) Read(p []byte) (n int, err error) {
	for bgzf.current == nil || bgzf.index == len(bgzf.current.data) {
		if bgzf.current != nil {
			blockPool.Put(bgzf.current)
			bgzf.current = nil
		}
		if err = bgzf.nextBlock(); err != nil {
			return 0, err
		}
	}
	n = copy(p, bgzf.current.data[bgzf.index:])
	bgzf.index += n
	return n, nil
}

type (
	// Writer writes in parallel to a BGZF file.
	Writer struct {
		w         io.Writer
		level     int
		p         pipeline.Pipeline
		wait      sync.WaitGroup
		current   *block
		blocks    chan *block
		data      interface{}
		flatePool sync.Pool
		closed    bool
	}

	// writerSource is the pipeline.Source view of a Writer that
	// fetches filled uncompressed blocks.
	writerSource Writer
)

func (*writerSource) Err() error {
	return nil
}

func (*writerSource) Prepare(_ context.Context) (size int) {
	return -1
}

func (src *writerSource) Fetch(_ int) (fetched int) {
	if b, ok := <-src.blocks; ok {
		src.data = b
		return 1
	}
	src.data = nil
	return 0
}

func (src *writerSource) Data() interface{} {
	return src.data
}

var blockHeader = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
}

func (bgzf *Writer) deflate(uncompressed *block) (*block, error) {
	compressed := getBlock()
	buf := bytes.NewBuffer(compressed.data)
	buf.Write(blockHeader)
	var flateWriter *flate.Writer
	if pooled := bgzf.flatePool.Get(); pooled != nil {
		flateWriter = pooled.(*flate.Writer)
		flateWriter.Reset(buf)
	} else {
		var err error
		if flateWriter, err = flate.NewWriter(buf, bgzf.level); err != nil {
			return compressed, err
		}
	}
	defer bgzf.flatePool.Put(flateWriter)
	if _, err := flateWriter.Write(uncompressed.data); err != nil {
		return compressed, err
	}
	if err := flateWriter.Close(); err != nil {
		return compressed, err
	}
	var tail [trailerSize]byte
	binary.LittleEndian.PutUint32(tail[0:4], crc32.ChecksumIEEE(uncompressed.data))
	binary.LittleEndian.PutUint32(tail[4:8], uint32(len(uncompressed.data)))
	buf.Write(tail[:])
	compressed.data = buf.Bytes()
	if len(compressed.data) > maxBlockSize {
		return compressed, fmt.Errorf("BGZF block of %v bytes exceeds the maximum block size", len(compressed.data))
	}
	binary.LittleEndian.PutUint16(compressed.data[16:18], uint16(len(compressed.data)-1))
	return compressed, nil
}

// NewWriter returns a Writer for the given io.Writer, using the
// default compression level.
func NewWriter(w io.Writer) *Writer {
	bgzf, _ := NewWriterLevel(w, flate.DefaultCompression)
	return bgzf
}

// NewWriterLevel returns a Writer for the given io.Writer, using the
// given compression level of compress/flate. Level
// flate.NoCompression produces uncompressed BGZF output, which is
// suitable for piping into other tools.
func NewWriterLevel(w io.Writer, level int) (*Writer, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid BGZF compression level %v", level)
	}
	bgzf := &Writer{
		w:       w,
		level:   level,
		current: getBlock(),
		blocks:  make(chan *block, 1),
	}
	bgzf.p.Source((*writerSource)(bgzf))
	bgzf.p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			uncompressed := data.(*block)
			compressed, err := bgzf.deflate(uncompressed)
			if err != nil {
				bgzf.p.SetErr(err)
			}
			blockPool.Put(uncompressed)
			return compressed
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			compressed := data.(*block)
			if _, err := w.Write(compressed.data); err != nil {
				bgzf.p.SetErr(err)
			}
			blockPool.Put(compressed)
			return nil
		})),
	)
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		bgzf.p.Run()
	}()
	return bgzf, nil
}

func (bgzf *Writer) sendBlock() error {
	if err := bgzf.p.Err(); err != nil {
		return err
	}
	bgzf.blocks <- bgzf.current
	bgzf.current = getBlock()
	return nil
}

// Write implements the corresponding method of io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	if bgzf.closed {
		return 0, errors.New("write to a closed BGZF writer")
	}
	for len(p) > 0 {
		index := len(bgzf.current.data)
		k := maxDataSize - index
		if k > len(p) {
			k = len(p)
		}
		bgzf.current.data = append(bgzf.current.data, p[:k]...)
		p = p[k:]
		n += k
		if len(bgzf.current.data) == maxDataSize {
			if err = bgzf.sendBlock(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Close flushes pending data, waits for all blocks to be written,
// and terminates the file with an EOF marker block. It does not close
// the underlying io.Writer.
func (bgzf *Writer) Close() error {
	if bgzf.closed {
		return nil
	}
	bgzf.closed = true
	if len(bgzf.current.data) > 0 {
		bgzf.blocks <- bgzf.current
	} else {
		blockPool.Put(bgzf.current)
	}
	bgzf.current = nil
	close(bgzf.blocks)
	bgzf.wait.Wait()
	if err := bgzf.p.Err(); err != nil {
		return err
	}
	_, err := bgzf.w.Write(eofMarker)
	return err
}
