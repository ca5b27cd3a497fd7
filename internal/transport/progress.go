package transport

import (
	"io"
	"math"
	"sync"
)

// progressReader counts bytes handed to the connection and converts them to percent.
// After settle returns no further callbacks are made.
type progressReader struct {
	r     io.Reader
	total int64
	fn    ProgressFunc

	mu      sync.Mutex
	sent    int64
	last    int
	settled bool
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled || p.fn == nil || p.total <= 0 {
		return
	}
	p.sent += n
	pct := int(math.Round(float64(p.sent) * 100 / float64(p.total)))
	switch {
	case p.sent >= p.total:
		pct = 100
	case pct >= 100:
		// 100 is reserved for a finished transfer
		pct = 99
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

func (p *progressReader) settle() {
	p.mu.Lock()
	p.settled = true
	p.mu.Unlock()
}
