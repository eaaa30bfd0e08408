package shell

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/telnet2/shelld/internal/builtin"
	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/filepack"
	"github.com/telnet2/shelld/internal/storage"
)

// resolvePack builds the pack a config entry names: "base" or "file:<dir>".
func (s *Service) resolvePack(name string) (command.Pack, error) {
	switch {
	case name == builtin.PackName:
		return builtin.NewPack(builtin.Env{
			Registry:  s.manager,
			Fs:        s.shellFs(),
			Maps:      s.maps(),
			Bus:       s.bus,
			Listeners: s.listenerInfo,
		}), nil
	case strings.HasPrefix(name, filepack.Prefix):
		dir := strings.TrimPrefix(name, filepack.Prefix)
		if dir == "" {
			return nil, fmt.Errorf("command pack %q: directory required", name)
		}
		return filepack.New(dir,
			filepack.WithFs(s.fs),
			filepack.WithVariables(s.cfg.Variables),
		), nil
	default:
		return nil, fmt.Errorf("unknown command pack %q", name)
	}
}

// shellFs is the filesystem the base commands navigate, confined to FsRoot
// when one is configured.
func (s *Service) shellFs() afero.Fs {
	if s.cfg.FsRoot == "" {
		return s.fs
	}
	return afero.NewBasePathFs(s.fs, s.cfg.FsRoot)
}

func (s *Service) maps() storage.Maps {
	if s.cfg.DataDir == "" {
		return storage.NewMemoryMaps()
	}
	return storage.NewFileMaps(storage.NewWithFs(s.fs, s.cfg.DataDir))
}

func (s *Service) listenerInfo() []builtin.ListenerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]builtin.ListenerInfo, 0, len(s.bound))
	for _, l := range s.bound {
		out = append(out, builtin.ListenerInfo{Type: l.Type(), Name: l.Name(), Address: l.Addr()})
	}
	return out
}

// fileDirs returns the directories of the file packs, for the watcher.
func (s *Service) fileDirs() []string {
	var dirs []string
	for _, p := range s.packs {
		if fp, ok := p.(*filepack.Pack); ok {
			dirs = append(dirs, fp.Dir())
		}
	}
	return dirs
}
