package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"

	"firestige.xyz/dnsniff/internal/core"
)

// lookupInterface resolves name to an interface index.
// An interface that is down is only a warning.
func lookupInterface(name string, logger *slog.Logger) (int, error) {
	if name == "" {
		return 0, newError("lookup", name, -1, fmt.Errorf("%w: no interface given", core.ErrInterfaceNotFound))
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			err = fmt.Errorf("%w: %w", core.ErrInterfaceNotFound, err)
		}
		return 0, newError("lookup", name, -1, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		logger.Warn("capture interface is down", "interface", name, "oper_state", attrs.OperState.String())
	}
	return attrs.Index, nil
}
