package ui

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/c-bata/go-prompt"
)

// completer suggests slash commands, then arguments by kind: online users,
// local files, bookmarks.
func (a *App) completer(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	words := strings.Fields(text)
	if len(words) == 1 && !strings.HasSuffix(text, " ") {
		return suggestCommands(strings.TrimPrefix(words[0], "/"))
	}

	spec, ok := lookupCommand(strings.TrimPrefix(words[0], "/"))
	if !ok {
		return nil
	}
	argIdx := len(words) - 1
	word := d.GetWordBeforeCursor()
	if strings.HasSuffix(text, " ") {
		argIdx = len(words)
		word = ""
	}
	argIdx-- // skip the command itself
	if argIdx < 0 || argIdx >= len(spec.args) {
		return nil
	}

	switch spec.args[argIdx] {
	case argUser:
		return prompt.FilterHasPrefix(a.userSuggestions(), word, true)
	case argFile:
		return suggestFiles(word)
	case argBookmark:
		return prompt.FilterHasPrefix(a.bookmarkSuggestions(), word, true)
	}
	return nil
}

func suggestCommands(prefix string) []prompt.Suggest {
	var out []prompt.Suggest
	for _, c := range commands {
		if strings.HasPrefix(c.name, strings.ToLower(prefix)) {
			out = append(out, prompt.Suggest{Text: "/" + c.name, Description: c.desc})
		}
	}
	return out
}

func (a *App) userSuggestions() []prompt.Suggest {
	c := a.current()
	if c == nil {
		return nil
	}
	var out []prompt.Suggest
	for _, name := range c.Users() {
		if name != c.Name() {
			out = append(out, prompt.Suggest{Text: name, Description: "online"})
		}
	}
	return out
}

func (a *App) bookmarkSuggestions() []prompt.Suggest {
	out := make([]prompt.Suggest, 0, len(a.bookmarks.Bookmarks))
	for _, b := range a.bookmarks.Bookmarks {
		out = append(out, prompt.Suggest{Text: b.Name, Description: b.Addr})
	}
	return out
}

// suggestFiles lists regular files in the directory part of prefix.
func suggestFiles(prefix string) []prompt.Suggest {
	dir, base := filepath.Split(prefix)
	readDir := dir
	if readDir == "" {
		readDir = "."
	}
	entries, err := os.ReadDir(readDir)
	if err != nil {
		return nil
	}
	var out []prompt.Suggest
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(base)) {
			continue
		}
		desc := "file"
		if e.IsDir() {
			name += string(filepath.Separator)
			desc = "directory"
		}
		out = append(out, prompt.Suggest{Text: dir + name, Description: desc})
	}
	return out
}
