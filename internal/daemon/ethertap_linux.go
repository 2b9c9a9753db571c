//go:build linux

package daemon

import (
	"github.com/wesleywu/atalk-router/internal/config"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/port/ethertap"
)

func newEthertap(pc config.PortConfig, log *logger.Logger) (port.Port, error) {
	return ethertap.New(pc.Label, pc.Interface, pc.Namespace, pc.NetworkMin, pc.NetworkMax, log), nil
}
