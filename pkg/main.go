package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	pkg "git.solsynth.dev/hypernet/kolab/pkg/internal"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/cache"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/grpc"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/api"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/ws"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	// Load .env when present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("An error occurred when loading .env file.")
	}

	// Configure settings
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("settings")
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("KOLAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Load settings
	if err := viper.ReadInConfig(); err != nil {
		log.Panic().Err(err).Msg("An error occurred when loading settings.")
	}
	if viper.GetBool("debug.enabled") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Connect to database
	stores, err := database.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connect to database.")
	}

	// Initialize cache
	ledger, err := cache.NewCache()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when initializing cache.")
	}

	// Realtime and domain services
	hub := realtime.NewHub(viper.GetInt("realtime.send_buffer"))
	auth := services.NewAuthenticatorFromConfig()
	conversations := services.NewConversationService(stores.Conversations)
	messages := services.NewMessageService(
		stores.Conversations,
		stores.Messages,
		hub,
		ledger,
		viper.GetDuration("cache.send_ttl"),
	)
	calls := services.NewCallService(
		stores.Calls,
		stores.Conversations,
		services.NewLiveKitProvider(),
		hub,
		services.CallOptions{
			ProviderTimeout: viper.GetDuration("calling.provider_timeout"),
			RingTimeout:     viper.GetDuration("calling.ring_timeout"),
		},
	)

	// Server
	server := http.NewServer(&api.Server{
		Auth:          auth,
		Conversations: conversations,
		Messages:      messages,
		Calls:         calls,
		Gateway:       ws.NewGateway(hub, auth, conversations, messages, calls, viper.GetDuration("realtime.reply_timeout")),
	})
	go server.Listen()

	// Health
	health := grpc.NewGrpc(databaseReady)
	go func() {
		if err := health.Listen(); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when starting grpc server...")
		}
	}()

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	quartz.AddFunc("@every 15s", services.DoRingExpiry(calls))
	quartz.AddFunc("@every 5s", services.DoFlushReadReceipts(messages))
	quartz.Start()

	// Messages
	color.New(color.FgCyan, color.Bold).Printf("HyperNet.Kolab v%s\n", pkg.AppVersion)
	color.New(color.FgHiBlack).Printf("http %s · grpc %s · store %s\n",
		viper.GetString("bind"),
		viper.GetString("grpc_bind"),
		viper.GetString("database.driver"),
	)
	log.Info().Msgf("Kolab v%s is started...", pkg.AppVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msgf("Kolab v%s is quitting...", pkg.AppVersion)

	<-quartz.Stop().Done()
	messages.FlushReadReceipts(context.Background())
	health.Stop()
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("An error occurred when shutting down server...")
	}
}

func databaseReady(ctx context.Context) error {
	if database.C == nil {
		return nil
	}
	db, err := database.C.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
