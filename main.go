package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"

	_ "github.com/ingkoon/sing-bot/home"
	"github.com/ingkoon/sing-bot/proc"
	"github.com/ingkoon/sing-bot/sys"
)

const botPIDFile = ".bot.pid"

func main() {
	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	flag.Parse()

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}
	if cfg.Silent {
		*silent = true
	}

	sys.InitLogger(*silent, true)

	botName := sys.GetProjectName()
	sys.LogInfo(sys.MsgBotStarting, botName)

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal(sys.MsgDatabaseInitFail, err)
	}
	defer sys.CloseDatabase()

	pidFile := acquirePIDFile()
	defer func() {
		if pidFile != nil {
			_ = syscall.Flock(int(pidFile.Fd()), syscall.LOCK_UN)
			_ = pidFile.Close()
			_ = os.Remove(botPIDFile)
		}
	}()

	if err := run(cfg, *silent, *skipReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

// acquirePIDFile takes over from any running instance: it locks the PID file,
// terminating the previous holder if needed.
func acquirePIDFile() *os.File {
	f, err := os.OpenFile(botPIDFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogWarn(sys.MsgBotPIDWriteFail, err)
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			sys.LogWarn(sys.MsgBotPIDWriteFail, err)
			return f
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil {
			<-ticker.C
			continue
		}
		if oldPid == os.Getpid() {
			break
		}

		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			<-ticker.C
			continue
		}

		sys.LogInfo(sys.MsgBotKillingOld, oldPid)
		if err := process.Signal(syscall.SIGTERM); err != nil {
			sys.LogWarn(sys.MsgBotKillFail, err)
			<-ticker.C
			continue
		}

		timeout := time.After(5 * time.Second)
	waitLoop:
		for {
			select {
			case <-ticker.C:
				if err := process.Signal(syscall.Signal(0)); err != nil {
					break waitLoop
				}
			case <-timeout:
				_ = process.Signal(syscall.SIGKILL)
				break waitLoop
			}
		}
		sys.LogInfo(sys.MsgBotOldTerminated)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()
	return f
}

func run(cfg *sys.Config, silent bool, skipReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	sys.SetAppContext(ctx)

	sys.LogInfo("Using database %s", filepath.Base(cfg.DatabasePath))

	// Client creation hits the REST API for gateway info; retry through
	// transient network failures.
	var client bot.Client
	var err error
	for i := 1; i <= 5; i++ {
		client, err = sys.CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		if i == 5 {
			return fmt.Errorf(sys.MsgBotClientFail, err)
		}
		sys.LogWarn("Client creation failed (attempt %d): %v", i, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	defer client.Close(context.Background())

	pm := proc.InitPlayerSystem(client, cfg)
	sys.RegisterVoiceStateUpdateHandler(pm.OnVoiceStateUpdate)

	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	}

	sys.OnReady(func(event *events.Ready) {
		sys.LogInfo(sys.MsgBotReady, event.User.Username, event.User.ID, os.Getpid())
	})

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf(sys.MsgBotGatewayFail, err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo(sys.MsgDaemonShutdown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pm.Shutdown(shutdownCtx)
	sys.ShutdownDaemons(shutdownCtx)

	sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	return nil
}
