package world

// borrowCell tracks runtime borrows on one store or resource. State is a
// plain counter because all borrow traffic happens on the simulation
// goroutine: positive counts shared borrows, -1 marks an exclusive borrow.
type borrowCell struct {
	name  string
	state int32
}

func (c *borrowCell) acquireShared() {
	if c.state < 0 {
		panic(&BorrowError{Name: c.name, Exclusive: false})
	}
	c.state++
}

func (c *borrowCell) acquireExclusive() {
	if c.state != 0 {
		panic(&BorrowError{Name: c.name, Exclusive: true})
	}
	c.state = -1
}

func (c *borrowCell) releaseShared() {
	if c.state <= 0 {
		panic("world: shared release without a live shared borrow")
	}
	c.state--
}

func (c *borrowCell) releaseExclusive() {
	if c.state != -1 {
		panic("world: exclusive release without a live exclusive borrow")
	}
	c.state = 0
}

func (c *borrowCell) idle() bool { return c.state == 0 }
