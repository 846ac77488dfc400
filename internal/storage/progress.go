package storage

import "io"

// progressReader wraps a reader and reports cumulative bytes read through the
// callback. Used so adapters can surface per-chunk upload progress without
// each backend SDK needing its own hook.
type progressReader struct {
	r        io.Reader
	total    int64
	callback func(bytes int64)
}

func newProgressReader(r io.Reader, callback func(bytes int64)) io.Reader {
	if callback == nil {
		return r
	}
	return &progressReader{r: r, callback: callback}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.callback(p.total)
	}
	return n, err
}
