package builtin

import (
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/spf13/afero"

	"github.com/telnet2/shelld/internal/command"
)

// cwd returns the session working directory, "/" when unset.
func cwd(exe *command.Execution) string {
	if s := exe.Session(); s != nil {
		if p, ok := s.Get(SessionPathKey); ok && p != "" {
			return p
		}
	}
	return "/"
}

func resolve(base, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Clean(path.Join(base, p))
}

// Pwd prints the session working directory.
func Pwd() *command.Command {
	cmd := command.New("pwd").Describe("print the working directory")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		exe.Println(cwd(exe))
		_ = exe.Succeed()
	})
	return cmd
}

// Cd changes the session working directory. Without an argument it goes
// back to "/".
func Cd(fs afero.Fs) *command.Command {
	cmd := command.New("cd").
		Describe("change the working directory").
		SetUsage("cd [dir]")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		sess := exe.Session()
		if sess == nil {
			_ = exe.Fail(fmt.Errorf("cd: no session"))
			return
		}
		if exe.Args().Len() == 0 {
			sess.Put(SessionPathKey, "/")
			_ = exe.Succeed()
			return
		}

		target := resolve(cwd(exe), exe.Args().Arg(0))
		isDir, err := afero.IsDir(fs, target)
		if err != nil || !isDir {
			_ = exe.Fail(fmt.Errorf("%s: No such file or directory", target))
			return
		}
		sess.Put(SessionPathKey, target)
		_ = exe.Succeed()
	})
	return cmd
}

// Ls lists a directory, the working directory by default.
func Ls(fs afero.Fs) *command.Command {
	cmd := command.New("ls").
		Describe("list directory contents").
		SetUsage("ls [dir]")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		target := cwd(exe)
		if exe.Args().Len() > 0 {
			target = resolve(target, exe.Args().Arg(0))
		}

		info, err := fs.Stat(target)
		if err != nil {
			_ = exe.Fail(fmt.Errorf("ls: cannot access '%s': no such file or directory", target))
			return
		}
		if !info.IsDir() {
			exe.Println(info.Name())
			_ = exe.Succeed()
			return
		}

		entries, err := afero.ReadDir(fs, target)
		if err != nil {
			_ = exe.Fail(fmt.Errorf("ls: %w", err))
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			exe.Println(name)
		}
		_ = exe.Succeed()
	})
	return cmd
}

// Cat writes files to stdout, or copies stdin when given no files.
func Cat(fs afero.Fs) *command.Command {
	cmd := command.New("cat").
		Describe("print file contents").
		SetUsage("cat [file...]")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		if exe.Args().Len() == 0 {
			if _, err := io.Copy(exe.Stdout(), exe.Stdin()); err != nil {
				_ = exe.Fail(fmt.Errorf("cat: %w", err))
				return
			}
			_ = exe.Succeed()
			return
		}

		base := cwd(exe)
		for _, name := range exe.Args().Positional() {
			if exe.Cancelled() {
				return
			}
			p := resolve(base, name)
			f, err := fs.Open(p)
			if err != nil {
				_ = exe.Fail(fmt.Errorf("cat: %s: No such file or directory", p))
				return
			}
			_, err = io.Copy(exe.Stdout(), f)
			f.Close()
			if err != nil {
				_ = exe.Fail(fmt.Errorf("cat: %s: %w", p, err))
				return
			}
		}
		_ = exe.Succeed()
	})
	return cmd
}
