package main

import (
	"context"
	"fmt"
	"sort"
)

// runMirror is a stand-alone diagnostic: it scans a set's content tree
// against its current basis..latest journal and prints what finish-change
// would publish, without starting a change or writing anything.
func (a *app) runMirror(ctx context.Context, args []string) error {
	name, err := a.parseSetName(args, "lmirror mirror <name>")
	if err != nil {
		return err
	}

	ms, err := a.openLocalSet(ctx, name)
	if err != nil {
		return fmt.Errorf("open set %q: %w", name, err)
	}

	content, err := ms.ReadContentConf(ctx)
	if err != nil {
		return fmt.Errorf("read content.conf for %q: %w", name, err)
	}

	j, err := ms.Preview(ctx, nowStamp(), content)
	if err != nil {
		return fmt.Errorf("preview set %q: %w", name, err)
	}

	if len(j.Paths) == 0 {
		fmt.Fprintf(a.stdout, "%s: no changes since the last finished change\n", name)

		return nil
	}

	paths := make([]string, 0, len(j.Paths))
	for p := range j.Paths {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		fmt.Fprintf(a.stdout, "%s\t%s\n", j.Paths[p].Action, p)
	}

	a.log.Info("mirror preview complete", "op", "mirror", "set", name, "changed", len(j.Paths))

	return nil
}
