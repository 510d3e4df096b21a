package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/sirupsen/logrus"

	"github.com/kazuki-osada/internal-excali-banana/internal/app"
	"github.com/kazuki-osada/internal-excali-banana/internal/config"
	"github.com/kazuki-osada/internal-excali-banana/internal/storage"
	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/pipeline"
)

const usage = `usage: excali-banana <command> [flags]

commands:
  serve      HTTP サーバーを起動します
  generate   シーンファイルから画像を生成します
  export     シーンファイルを PNG に書き出します
`

// promptFunc は対話的にカスタムプロンプトを尋ねます。
type promptFunc func() (string, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, askPrompt); err != nil {
		logrus.WithError(err).Error("excali-banana failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, ask promptFunc) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("command is required")
	}
	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "generate":
		return generate(ctx, args[1:], stdout, ask)
	case "export":
		return export(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	fmt.Fprint(stdout, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

// setup は設定を読み込み、ログを整えてから App を組み立てます。
func setup(ctx context.Context, configDir string) (*app.App, error) {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := app.SetupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configDir := fs.String("config", "", "config.yaml を探すディレクトリ")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func generate(ctx context.Context, args []string, stdout io.Writer, ask promptFunc) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configDir := fs.String("config", "", "config.yaml を探すディレクトリ")
	scenePath := fs.String("scene", "", ".excalidraw ファイル (gs:// も可)")
	prompt := fs.String("prompt", "", "追加の指示")
	interactive := fs.Bool("i", false, "追加の指示を対話的に入力する")
	out := fs.String("out", "", "出力ファイル (省略時は banana-magic-<unixms>.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenePath == "" {
		return errors.New("-scene is required")
	}

	if *interactive {
		p, err := ask()
		if err != nil {
			return err
		}
		*prompt = p
	}

	a, err := setup(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.LoadBoard(ctx, *scenePath)
	if err != nil {
		return err
	}
	orch, err := a.Orchestrator(pipeline.WithNotifier(pipeline.NotifierFunc(func(_ context.Context, message string) {
		fmt.Fprintln(stdout, message)
	})))
	if err != nil {
		return err
	}

	result, err := orch.Run(ctx, b, *prompt)
	if err != nil {
		return err
	}
	if result == "" {
		return nil
	}
	_, data, err := datauri.Decode(result)
	if err != nil {
		return fmt.Errorf("生成された画像を読み取れません: %w", err)
	}
	return writeOutput(ctx, a, stdout, *out, storage.ResultFileName(time.Now()), data)
}

func export(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configDir := fs.String("config", "", "config.yaml を探すディレクトリ")
	scenePath := fs.String("scene", "", ".excalidraw ファイル (gs:// も可)")
	out := fs.String("out", "", "出力ファイル (省略時は excali-banana-<unixms>.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenePath == "" {
		return errors.New("-scene is required")
	}

	a, err := setup(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.LoadBoard(ctx, *scenePath)
	if err != nil {
		return err
	}
	orch, err := a.Orchestrator()
	if err != nil {
		return err
	}
	img, err := orch.Export(ctx, b)
	if err != nil {
		return err
	}
	return writeOutput(ctx, a, stdout, *out, storage.ExportFileName(time.Now()), img.Data)
}

// writeOutput は path (省略時は fallback) に書き出します。storage.gcs が有効なら gs:// も使えます。
func writeOutput(ctx context.Context, a *app.App, stdout io.Writer, path, fallback string, data []byte) error {
	if path == "" {
		path = fallback
	}
	if err := a.WriteOutput(ctx, path, data); err != nil {
		return fmt.Errorf("出力ファイルを書き込めません: %w", err)
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func askPrompt() (string, error) {
	var out string
	q := &survey.Input{
		Message: "Custom prompt (optional):",
		Help:    "例: watercolor style, add a sunset background",
	}
	if err := survey.AskOne(q, &out); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return "", errors.New("cancelled")
		}
		return "", err
	}
	return out, nil
}
