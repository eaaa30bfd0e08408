package builtin

import (
	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/storage"
)

// LocalMapGet prints "key: value" for each key of a shared map.
func LocalMapGet(maps storage.Maps) *command.Command {
	const usage = "local-map-get map keys..."
	cmd := command.New("local-map-get").
		Describe("read entries of a shared map").
		SetUsage(usage)
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		args := exe.Args().Positional()
		if len(args) == 0 {
			usageError(exe, usage)
			return
		}
		ctx := exe.Context()
		keys := args[1:]
		if len(keys) == 0 {
			all, err := maps.Keys(ctx, args[0])
			if err != nil {
				_ = exe.Fail(err)
				return
			}
			keys = all
		}
		for _, key := range keys {
			v, ok, err := maps.Get(ctx, args[0], key)
			if err != nil {
				_ = exe.Fail(err)
				return
			}
			if !ok {
				v = "null"
			}
			exe.Printf("%s: %s\n", key, v)
		}
		_ = exe.Succeed()
	})
	return cmd
}

// LocalMapPut stores one entry in a shared map.
func LocalMapPut(maps storage.Maps) *command.Command {
	const usage = "local-map-put map key value"
	cmd := command.New("local-map-put").
		Describe("write an entry of a shared map").
		SetUsage(usage)
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		args := exe.Args().Positional()
		if len(args) < 3 {
			usageError(exe, usage)
			return
		}
		if err := maps.Put(exe.Context(), args[0], args[1], args[2]); err != nil {
			_ = exe.Fail(err)
			return
		}
		_ = exe.Succeed()
	})
	return cmd
}

// LocalMapRm removes keys from a shared map. Missing keys are ignored.
func LocalMapRm(maps storage.Maps) *command.Command {
	const usage = "local-map-rm map keys..."
	cmd := command.New("local-map-rm").
		Describe("remove entries of a shared map").
		SetUsage(usage)
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		args := exe.Args().Positional()
		if len(args) == 0 {
			usageError(exe, usage)
			return
		}
		for _, key := range args[1:] {
			if _, err := maps.Remove(exe.Context(), args[0], key); err != nil {
				_ = exe.Fail(err)
				return
			}
		}
		_ = exe.Succeed()
	})
	return cmd
}

// LocalMapLs lists the shared maps, or the keys of one map.
func LocalMapLs(maps storage.Maps) *command.Command {
	cmd := command.New("local-map-ls").
		Describe("list shared maps or the keys of one").
		SetUsage("local-map-ls [map]")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		var (
			names []string
			err   error
		)
		if exe.Args().Len() == 0 {
			names, err = maps.Names(exe.Context())
		} else {
			names, err = maps.Keys(exe.Context(), exe.Args().Arg(0))
		}
		if err != nil {
			_ = exe.Fail(err)
			return
		}
		for _, n := range names {
			exe.Println(n)
		}
		_ = exe.Succeed()
	})
	return cmd
}
