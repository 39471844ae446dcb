package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hookscope/internal/host"
	"hookscope/internal/symbolicate"
)

func parseHex(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// swbt prints the current thread's backtrace, or one address, resymbolicated
// against the nearest preceding symbol.
func (s *Set) swbt(ctx context.Context, exe host.ExecContext, args string, res *host.CommandResult) {
	fs := flags("swbt")
	address := fs.StringP("address", "a", "", "Only try to resymbolicate this address")
	if !parse(fs, args, res) {
		return
	}
	t, err := target(exe)
	if err != nil {
		res.SetError(err)
		return
	}
	if exe.Thread == nil {
		res.SetError(errors.New("the process must be paused to execute this command"))
		return
	}

	var addrs []uint64
	if *address != "" {
		a, err := parseHex(*address)
		if err != nil {
			res.SetError(fmt.Errorf("bad address %q: %w", *address, err))
			return
		}
		addrs = []uint64{a}
	} else {
		for _, f := range exe.Thread.Frames() {
			addrs = append(addrs, f.PC())
		}
	}
	res.AppendMessage("%s", symbolicate.Trace(addrs, symbolicate.FromTarget(t)))
}
