package ramfs

// MaxFileSize caps any single Buffer, budget or not, so that a huge offset
// fails with ENOMEM instead of asking the runtime for the allocation.
const MaxFileSize = 1 << 40

// budget is a byte limit shared by every Buffer of one filesystem.
// A zero limit means unlimited.
type budget struct {
	limit int64
	used  int64
}

func (b *budget) reserve(n int64) error {
	if b == nil || n <= 0 {
		return nil
	}
	if b.limit > 0 && b.used+n > b.limit {
		return ENOMEM
	}
	b.used += n
	return nil
}

func (b *budget) refund(n int64) {
	if b == nil || n <= 0 {
		return
	}
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
}

// Buffer is the growable byte store backing both file content and directory
// records. Slices returned by Bytes are only valid until the next mutation.
type Buffer struct {
	data   []byte
	budget *budget
}

func newBuffer(b *budget) Buffer {
	return Buffer{budget: b}
}

// Len returns the number of bytes held.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the current contents without copying.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Append adds p to the end of the buffer.
// On ENOMEM the buffer is unchanged.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if int64(len(b.data))+int64(len(p)) > MaxFileSize {
		return ENOMEM
	}
	if err := b.budget.reserve(int64(len(p))); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

// Resize grows or shrinks the buffer to n bytes. Growth is zero-filled.
func (b *Buffer) Resize(n int) error {
	cur := len(b.data)
	switch {
	case n < 0:
		return EINVAL
	case int64(n) > MaxFileSize:
		return ENOMEM
	case n == cur:
		return nil
	case n < cur:
		clear(b.data[n:cur])
		b.data = b.data[:n]
		b.budget.refund(int64(cur - n))
		return nil
	}
	if err := b.budget.reserve(int64(n - cur)); err != nil {
		return err
	}
	if n <= cap(b.data) {
		b.data = b.data[:n]
		clear(b.data[cur:])
		return nil
	}
	grown := make([]byte, n, growCap(cap(b.data), n))
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Remove deletes n bytes starting at pos, shifting the tail down.
func (b *Buffer) Remove(pos, n int) error {
	if pos < 0 || n < 0 || pos+n > len(b.data) {
		return EINVAL
	}
	if n == 0 {
		return nil
	}
	end := len(b.data)
	copy(b.data[pos:], b.data[pos+n:])
	clear(b.data[end-n : end])
	b.data = b.data[:end-n]
	b.budget.refund(int64(n))
	return nil
}

// Clear empties the buffer and refunds its bytes, keeping the backing array.
func (b *Buffer) Clear() {
	b.budget.refund(int64(len(b.data)))
	clear(b.data)
	b.data = b.data[:0]
}

// release drops the backing array entirely.
func (b *Buffer) release() {
	b.budget.refund(int64(len(b.data)))
	b.data = nil
}

func growCap(old, need int) int {
	c := old * 2
	if c < 64 {
		c = 64
	}
	if c < need {
		c = need
	}
	return c
}
