package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/protocol"
	"github.com/dshills/linesync/internal/rpc"
)

func newReplayCmd() *cobra.Command {
	var viewID string
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Rebuild line caches from a recorded protocol trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return replay(f, cmd.OutOrStdout(), viewID, pslog.Ctx(cmd.Context()))
		},
	}
	cmd.Flags().StringVar(&viewID, "view", "", "only replay updates for this view id")
	return cmd
}

type replayed struct {
	cache   *linecache.Cache
	updates int
	errors  int
}

// replay applies every inbound update in a trace to a fresh cache per view
// and prints the resulting documents.
func replay(r io.Reader, w io.Writer, viewFilter string, log pslog.Logger) error {
	views := make(map[string]*replayed)

	err := rpc.ReadTrace(r, func(e rpc.TraceEntry) error {
		if e.Dir != rpc.Inbound {
			return nil
		}
		msg := gjson.ParseBytes(e.Message)
		if msg.Get("method").String() != protocol.MethodUpdate || msg.Get("id").Exists() {
			return nil
		}
		n, err := protocol.DecodeNotification(protocol.MethodUpdate, []byte(msg.Get("params").Raw))
		if err != nil {
			log.Warn("skipping undecodable update", "error", err)
			return nil
		}
		u := n.(protocol.Update)
		if viewFilter != "" && u.ViewID != viewFilter {
			return nil
		}

		v, ok := views[u.ViewID]
		if !ok {
			v = &replayed{cache: linecache.New(linecache.DefaultConfig(), log)}
			views[u.ViewID] = v
		}
		v.updates++
		if _, err := v.cache.Apply(u.Delta); err != nil {
			v.errors++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	ids := make([]string, 0, len(views))
	for id := range views {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bw := bufio.NewWriter(w)
	for _, id := range ids {
		v := views[id]
		snap := v.cache.Snapshot()
		name := id
		if name == "" {
			name = "(default)"
		}
		fmt.Fprintf(bw, "view %s: height=%d revision=%d pristine=%t updates=%d errors=%d\n",
			name, snap.Height(), snap.Revision, snap.Pristine, v.updates, v.errors)
		for ix := 0; ix < snap.Height(); ix++ {
			l := v.cache.Get(ix)
			if l == nil {
				fmt.Fprintf(bw, "%5d ~\n", ix)
				continue
			}
			fmt.Fprintf(bw, "%5d %s\n", ix, trimNewline(l.Text))
		}
	}
	return bw.Flush()
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
