//go:build !cgo || !libpcap

package capture

import (
	"fmt"

	"golang.org/x/net/bpf"

	"firestige.xyz/dnsniff/internal/core"
)

// CompileExpression needs libpcap; build with cgo and the libpcap tag to enable it.
func CompileExpression(expr string, snaplen int) ([]bpf.RawInstruction, error) {
	return nil, fmt.Errorf("%w: filter expression %q needs a libpcap build", core.ErrUnsupported, expr)
}
