package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Naming schemes.
const (
	NamingCounter   = "counter"
	NamingTimestamp = "timestamp"
)

// Namer maps a counter value to an output path.
type Namer interface {
	Path(n uint64) string
}

// CounterNamer names files <Dir>/<n>.jpg, without zero padding.
type CounterNamer struct {
	Dir string
}

func (c CounterNamer) Path(n uint64) string {
	return filepath.Join(c.Dir, strconv.FormatUint(n, 10)+".jpg")
}

// TimestampNamer names files <Dir>/<YYYYmmdd-HHMMSS>-<n>.jpg, which keeps
// names unique across runs even when the counter restarts.
type TimestampNamer struct {
	Dir string
	Now func() time.Time
}

func (t TimestampNamer) Path(n uint64) string {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return filepath.Join(t.Dir, fmt.Sprintf("%s-%d.jpg", now().Format("20060102-150405"), n))
}

// NewNamer returns the namer for scheme.
func NewNamer(scheme, dir string) (Namer, error) {
	switch scheme {
	case NamingCounter, "":
		return CounterNamer{Dir: dir}, nil
	case NamingTimestamp:
		return TimestampNamer{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown naming scheme %q", scheme)
	}
}

// HighestIndex returns the largest n among the <n>.jpg files in dir,
// or 0 when there are none. Other files are ignored.
func HighestIndex(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	var highest uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, ok := strings.CutSuffix(e.Name(), ".jpg")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest, nil
}
