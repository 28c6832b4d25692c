package main

import (
	"github.com/alecthomas/kong"

	"batch-transcriber/internal/config"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Runtime config file." type:"path" default:"${config_path}"`
	Settings string `help:"User settings file." type:"path" default:"${settings_path}"`
	LogLevel string `help:"Log level (debug, info, warn, error). Defaults to the config value." name:"log-level"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	GUI    GUICmd    `cmd:"" default:"1" help:"Open the desktop application."`
	Run    RunCmd    `cmd:"" help:"Transcribe files without the desktop application."`
	Models ModelsCmd `cmd:"" help:"List or download whisper models."`
	Check  CheckCmd  `cmd:"" help:"Check that the configured backend can run."`
	Worker WorkerCmd `cmd:"" hidden:"" help:"Serve one transcription worker over stdin and stdout."`
}

func vars() kong.Vars {
	return kong.Vars{
		"config_path":   config.RuntimePath(),
		"settings_path": config.SettingsPath(),
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("batch-transcriber"),
		kong.Description("Queue audio and video files for Whisper transcription."),
		kong.UsageOnError(),
		vars(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
