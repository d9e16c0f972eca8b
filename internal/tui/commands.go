package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/paintbridge/internal/bridge"
)

const promptHelp = "login <user> <password> | logout | save [name] | load <id> | download [file] | open <url> | redirect <url> | upload | track <name|json> | name <title> | clear | quit"

// command is a parsed prompt line. Exactly one of out, local is set.
type command struct {
	out   bridge.Outbound
	local string // "clear", "quit", "help", "rename"
	arg   string
}

var errEmptyCommand = errors.New("empty command")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errEmptyCommand
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch name {
	case "login":
		if err := need(2, "login <user> <password>"); err != nil {
			return command{}, err
		}
		return command{out: bridge.AttemptLogin{Credentials: bridge.Credentials{Username: args[0], Password: args[1]}}}, nil
	case "logout":
		return command{out: bridge.Logout{}}, nil
	case "save":
		// The drawing body is filled in by the model.
		return command{out: bridge.Save{}, arg: rest}, nil
	case "load":
		if err := need(1, "load <id>"); err != nil {
			return command{}, err
		}
		return command{out: bridge.LoadDrawing{ID: args[0]}}, nil
	case "download":
		file := rest
		if file == "" {
			file = "drawing.png"
		}
		return command{out: bridge.Download{Filename: file}}, nil
	case "open":
		if err := need(1, "open <url>"); err != nil {
			return command{}, err
		}
		return command{out: bridge.OpenWindow{URL: args[0]}}, nil
	case "redirect":
		if err := need(1, "redirect <url>"); err != nil {
			return command{}, err
		}
		return command{out: bridge.RedirectTo{URL: args[0]}}, nil
	case "upload":
		return command{out: bridge.OpenFileUpload{}}, nil
	case "track":
		if err := need(1, "track <name|json>"); err != nil {
			return command{}, err
		}
		event := json.RawMessage(rest)
		if !json.Valid(event) {
			raw, _ := json.Marshal(map[string]string{"name": rest})
			event = raw
		}
		return command{out: bridge.Track{Event: event}}, nil
	case "clear", "quit", "help":
		return command{local: name}, nil
	case "name":
		if err := need(1, "name <title>"); err != nil {
			return command{}, err
		}
		return command{local: "rename", arg: rest}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}
