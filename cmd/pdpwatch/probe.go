package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/pdpwatch/internal/health"
)

var errNoProbeTarget = errors.New("probe needs --http or --tcp")

func probeChecker(flags ProbeFlags) (health.Checker, error) {
	var checkers []health.Checker
	if flags.HTTP != "" {
		c := health.NewHTTPChecker(flags.HTTP)
		if flags.Expect > 0 {
			c.ExpectedStatus = flags.Expect
		}
		c.Timeout = flags.Timeout
		checkers = append(checkers, c)
	}
	if flags.TCP != "" {
		c := health.NewTCPChecker(flags.TCP)
		c.Timeout = flags.Timeout
		checkers = append(checkers, c)
	}
	switch len(checkers) {
	case 0:
		return nil, errNoProbeTarget
	case 1:
		return checkers[0], nil
	default:
		c := health.NewCompositeChecker(checkers...)
		c.Timeout = flags.Timeout
		return c, nil
	}
}

func runProbe(ctx context.Context, flags ProbeFlags, out io.Writer) error {
	checker, err := probeChecker(flags)
	if err != nil {
		return err
	}
	res := checker.Check(ctx)
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.Healthy() {
		return fmt.Errorf("%s: %s", res.Checker, res.Reason)
	}
	return nil
}
