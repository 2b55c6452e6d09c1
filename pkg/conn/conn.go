// Package conn implements the RTSP/TCP framing layer: a reader that
// tolerates interleaved frames appearing between RTSP messages on the same
// stream, and a writer that coalesces small interleaved frames.
package conn

import (
	"bufio"
	"io"
	"sync"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

const readBufferSize = 4096

// Conn wraps a net.Conn (or any io.ReadWriter) with the RTSP/interleaved
// framing required by the session state machine.
type Conn struct {
	bc io.ReadWriter
	br *bufio.Reader

	writeMutex  sync.Mutex
	coalesceBuf []byte
}

// New allocates a Conn.
func New(rw io.ReadWriter) *Conn {
	return &Conn{
		bc: rw,
		br: bufio.NewReaderSize(rw, readBufferSize),
	}
}

// ReadRequest reads a Request. It is not safe to interleave with
// ReadInterleavedFrameOrRequest calls on the same Conn.
func (c *Conn) ReadRequest() (*base.Request, error) {
	req := &base.Request{}
	if err := req.Unmarshal(c.br); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadResponse reads a Response.
func (c *Conn) ReadResponse() (*base.Response, error) {
	res := &base.Response{}
	if err := res.Unmarshal(c.br); err != nil {
		return nil, err
	}
	return res, nil
}

// ReadInterleavedFrameOrRequest reads either an interleaved frame or a
// request from the connection, tolerating either appearing first:
// interleaved frames may show up in between RTSP messages on the same TCP
// stream.
func (c *Conn) ReadInterleavedFrameOrRequest() (interface{}, error) {
	b, err := c.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] == base.InterleavedFrameMagicByte {
		f := &base.InterleavedFrame{}
		if err := f.Unmarshal(c.br); err != nil {
			return nil, err
		}
		return f, nil
	}

	req := &base.Request{}
	if err := req.Unmarshal(c.br); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteRequest writes a Request.
func (c *Conn) WriteRequest(req *base.Request) error {
	buf, err := req.Marshal()
	if err != nil {
		return err
	}
	return c.writeDirect(buf)
}

// WriteResponse writes a Response.
func (c *Conn) WriteResponse(res *base.Response) error {
	buf, err := res.Marshal()
	if err != nil {
		return err
	}
	return c.writeDirect(buf)
}

// WriteInterleavedFrame writes an interleaved frame, coalescing it with
// any pending small frames: frames <= 1450 bytes are appended to a small
// buffer flushed on the next larger frame, an explicit Flush, or once the
// buffer would exceed the threshold; larger frames bypass the coalescer
// and are written directly.
func (c *Conn) WriteInterleavedFrame(f *base.InterleavedFrame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	size := f.MarshalSize()

	if size > base.InterleavedFrameCoalesceThreshold {
		if err := c.flushLocked(); err != nil {
			return err
		}
		buf, err := f.Marshal()
		if err != nil {
			return err
		}
		_, err = c.bc.Write(buf)
		return err
	}

	if len(c.coalesceBuf)+size > base.InterleavedFrameCoalesceThreshold {
		if err := c.flushLocked(); err != nil {
			return err
		}
	}

	buf := make([]byte, size)
	if _, err := f.MarshalTo(buf); err != nil {
		return err
	}
	c.coalesceBuf = append(c.coalesceBuf, buf...)

	return nil
}

// Flush flushes any pending coalesced interleaved frames.
func (c *Conn) Flush() error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.flushLocked()
}

func (c *Conn) flushLocked() error {
	if len(c.coalesceBuf) == 0 {
		return nil
	}
	buf := c.coalesceBuf
	c.coalesceBuf = nil
	_, err := c.bc.Write(buf)
	return err
}

func (c *Conn) writeDirect(buf []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.flushLocked(); err != nil {
		return err
	}
	_, err := c.bc.Write(buf)
	return err
}
