// Package matrix loads, saves and generates square integer matrices in the
// whitespace-separated text format used for job inputs and outputs.
package matrix

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
)

// Matrix is a square size×size grid stored row-major.
type Matrix struct {
	Size int
	Data []int
}

func New(size int) *Matrix {
	return &Matrix{Size: size, Data: make([]int, size*size)}
}

// FromRows builds a matrix from literal rows. It panics if rows is not square.
func FromRows(rows [][]int) *Matrix {
	m := New(len(rows))
	for i, row := range rows {
		if len(row) != m.Size {
			panic(fmt.Sprintf("matrix: row %d has %d values, want %d", i, len(row), m.Size))
		}
		copy(m.Data[i*m.Size:], row)
	}
	return m
}

func Identity(size int) *Matrix {
	m := New(size)
	for i := 0; i < size; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func (m *Matrix) At(row, col int) int {
	return m.Data[row*m.Size+col]
}

func (m *Matrix) Set(row, col, value int) {
	m.Data[row*m.Size+col] = value
}

// Row returns the backing slice of one row.
func (m *Matrix) Row(row int) []int {
	return m.Data[row*m.Size : (row+1)*m.Size]
}

func (m *Matrix) Equal(o *Matrix) bool {
	if m.Size != o.Size {
		return false
	}
	for i, v := range m.Data {
		if o.Data[i] != v {
			return false
		}
	}
	return true
}

// Multiply is the sequential reference product a×b.
func Multiply(a, b *Matrix) *Matrix {
	n := a.Size
	c := New(n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			av := a.At(i, k)
			for j := 0; j < n; j++ {
				c.Data[i*n+j] += av * b.At(k, j)
			}
		}
	}
	return c
}

// Random fills a size×size matrix with values uniform in [0,10) drawn from rng.
func Random(rng *rand.Rand, size int) *Matrix {
	m := New(size)
	for i := range m.Data {
		m.Data[i] = rng.Intn(10)
	}
	return m
}

// Read parses size×size integers separated by any whitespace.
func Read(r io.Reader, size int) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	m := New(size)
	for i := range m.Data {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("read value %d: %w", i, err)
			}
			return nil, fmt.Errorf("matrix has %d values, want %d", i, size*size)
		}
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("value %d (row %d): %w", i, i/size, err)
		}
		m.Data[i] = v
	}
	return m, nil
}

// Write emits one row per line, each value followed by a space.
func Write(w io.Writer, m *Matrix) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < m.Size; i++ {
		for _, v := range m.Row(i) {
			bw.WriteString(strconv.Itoa(v))
			bw.WriteByte(' ')
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func Load(path string, size int) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix %s: %w", path, err)
	}
	defer f.Close()

	m, err := Read(f, size)
	if err != nil {
		return nil, fmt.Errorf("failed to load matrix %s: %w", path, err)
	}
	return m, nil
}

func Save(path string, m *Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create matrix %s: %w", path, err)
	}
	if err := Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write matrix %s: %w", path, err)
	}
	return f.Close()
}

// Generate writes a fresh random matrix to each path.
func Generate(rng *rand.Rand, size int, paths ...string) error {
	for _, p := range paths {
		if err := Save(p, Random(rng, size)); err != nil {
			return err
		}
	}
	return nil
}
