// Package bench compares updating an endorsed payload by re-endorsement with
// updating it by sanitization.
package bench

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/karasz/sms"
)

// DefaultSizes are the endorser counts measured by default.
var DefaultSizes = []int{3, 10, 50, 100}

const (
	original  = "Original Medical Record: Alice, Blood Type O, Fee 500"
	sanitized = "Sanitized Medical Record: ***, Blood Type O, Fee 500"
)

// Result holds mean per-update timings for one endorser count.
type Result struct {
	N        int
	Rounds   int
	Resign   time.Duration
	Sanitize time.Duration
}

// Speedup is Resign / Sanitize.
func (r Result) Speedup() float64 {
	if r.Sanitize <= 0 {
		return math.Inf(1)
	}
	return float64(r.Resign) / float64(r.Sanitize)
}

// Run measures, for every size, the mean cost of having all N endorsers sign
// the updated payload against the cost of one sanitization. Key setup and
// the original signature are excluded from both timings.
func Run(ctx context.Context, s *sms.Scheme, sizes []int, rounds int) ([]Result, error) {
	if rounds < 1 {
		rounds = 1
	}
	out := make([]Result, 0, len(sizes))
	for _, n := range sizes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st, err := s.Setup(n)
		if err != nil {
			return out, fmt.Errorf("setup %d endorsers: %w", n, err)
		}
		r, _, err := s.Sign([]byte(original), st.HashKey, st.Endorsers)
		if err != nil {
			return out, fmt.Errorf("sign with %d endorsers: %w", n, err)
		}

		res := Result{N: n, Rounds: rounds}
		var resign, sanitize time.Duration
		for range rounds {
			start := time.Now()
			if _, _, err := s.Sign([]byte(sanitized), st.HashKey, st.Endorsers); err != nil {
				return out, fmt.Errorf("re-sign with %d endorsers: %w", n, err)
			}
			resign += time.Since(start)

			start = time.Now()
			s.Sanitize(st.Sanitizer, []byte(original), r, []byte(sanitized))
			sanitize += time.Since(start)
		}
		res.Resign = resign / time.Duration(rounds)
		res.Sanitize = sanitize / time.Duration(rounds)
		out = append(out, res)
	}
	return out, nil
}

// Print writes results as an aligned table.
func Print(w io.Writer, results []Result) {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, "%-12s%16s%16s%12s\n", "endorsers", "re-sign", "sanitize", "speedup")
	for _, r := range results {
		fmt.Fprintf(buf, "%-12d", r.N)
		prettyPrint(buf, ms(r.Resign), "ms")
		prettyPrint(buf, ms(r.Sanitize), "ms")
		fmt.Fprintf(buf, "%11.1fx\n", r.Speedup())
	}
	_, _ = io.WriteString(w, buf.String())
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// prettyPrint keeps the decimal point aligned with four significant digits
// for small values.
func prettyPrint(w io.Writer, x float64, unit string) {
	var format string
	switch y := math.Abs(x); {
	case y == 0 || y >= 999.95:
		format = "%10.0f %s"
	case y >= 99.995:
		format = "%12.1f %s"
	case y >= 9.9995:
		format = "%13.2f %s"
	case y >= 0.99995:
		format = "%14.3f %s"
	default:
		format = "%15.4f %s"
	}
	fmt.Fprintf(w, format, x, unit)
}
