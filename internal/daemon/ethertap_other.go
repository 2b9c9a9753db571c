//go:build !linux

package daemon

import (
	"fmt"

	"github.com/wesleywu/atalk-router/internal/config"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
)

func newEthertap(pc config.PortConfig, _ *logger.Logger) (port.Port, error) {
	return nil, fmt.Errorf("port %q: ethertap driver requires linux (AF_PACKET)", pc.Label)
}
