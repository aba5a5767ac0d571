package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc opens a new connection to an instrument, e.g. a TCP socket
// or a USBTMC endpoint pair
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool leases connections to one instrument.  Idle connections are closed
// once none has been in use for the pool timeout and are reopened on demand.
// Pools are safe for concurrent use and must be made with NewPool.
type Pool struct {
	timeout time.Duration // time after the last return to free all connections
	maker   CreationFunc

	// lease holds one token per connection given out, cap(lease) is the
	// maximum size of the pool.  Get blocks on it when all are in use.
	lease chan struct{}

	mu      sync.Mutex
	idle    []io.ReadWriteCloser
	onLease int
	timer   *time.Timer // reclaims idle connections, nil when not armed
}

// NewPool creates a new pool which will hold at most maxSize connections
// and close them after timeout has elapsed with none in use
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		timeout: timeout,
		maker:   maker,
		lease:   make(chan struct{}, maxSize),
	}
}

// Get leases a connection, blocking while the pool is exhausted.  The caller
// has sole use of it until it is handed back with Put, Destroy, or
// ReturnWithError.  Nothing is leased when err is not nil.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.lease <- struct{}{}

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	// reuse the most recently returned connection
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.maker()
	if err != nil {
		<-p.lease
		return nil, err
	}
	p.mu.Lock()
	p.onLease++
	p.mu.Unlock()
	return conn, nil
}

// Put hands a healthy connection back for reuse.  When it was the last one
// on lease, the reclaim timer is armed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.mu.Lock()
	p.idle = append(p.idle, rw.(io.ReadWriteCloser))
	p.onLease--
	if p.onLease == 0 && p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
	p.mu.Unlock()
	<-p.lease
}

// Destroy closes a leased connection instead of returning it
func (p *Pool) Destroy(rw io.ReadWriter) {
	rw.(io.ReadWriteCloser).Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.lease
}

// ReturnWithError returns the connection to the pool if err is nil, and
// destroys it otherwise.  After a failed exchange the position in the
// instrument's output stream is unknown, so the connection is not reused.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections on lease
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close frees every idle connection.  Connections on lease are closed when
// they are returned and the reclaim timer fires.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	var first error
	for _, conn := range p.idle {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.idle = nil
	return first
}

// reclaim closes all idle connections if nothing was taken out since the
// timer was armed
func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease != 0 {
		return
	}
	for _, conn := range p.idle {
		conn.Close()
	}
	p.idle = nil
	p.timer = nil
}
