package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification commands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test attendance notification to every configured sink",
	Long: `Send a synthetic attendance event to every configured sink and report
per-sink failures. Useful to verify Telegram, shoutrrr and MQTT credentials.

Examples:
  face-attendance notify test
  face-attendance notify test --name "Jan Novak" --image snapshot.jpg`,
	RunE: runNotifyTest,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)

	notifyTestCmd.Flags().String("name", "Test Person", "Display name in the test event")
	notifyTestCmd.Flags().String("image", "", "JPEG to attach as evidence")
}

// buildSinks creates a sink for every configured notification channel.
func buildSinks(cfg config.NotificationConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.TelegramEnabled() {
		sinks = append(sinks, notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(cfg.ShoutrrrURLs) > 0 {
		s, err := notify.NewShoutrrrSink(cfg.ShoutrrrURLs, cfg.Timeout())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTTBroker != "" {
		s, err := notify.NewMQTTSink(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var evidence []byte
	if path := mustGetString(cmd, "image"); path != "" {
		evidence, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading evidence image: %w", err)
		}
	}

	sinks, err := buildSinks(cfg.Notification)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no notification sink configured")
	}

	dispatcher := notify.NewDispatcher(sinks, notify.Options{Timeout: cfg.Notification.Timeout()}, nil, logging.Module("notify"))
	defer dispatcher.Close(cfg.Notification.Timeout())

	event := &database.StoredEvent{
		ID:          uuid.NewString(),
		IdentityID:  "TEST",
		DisplayName: mustGetString(cmd, "name"),
		Timestamp:   time.Now(),
		FirstOfDay:  true,
		Kind:        database.EventKindScan,
		Remark:      "test notification",
	}

	fmt.Printf("Sending test notification to %v...\n", dispatcher.Sinks())
	if err := dispatcher.SendAll(context.Background(), event, evidence); err != nil {
		return fmt.Errorf("notification failed: %w", err)
	}
	fmt.Println("All sinks delivered the test notification")
	return nil
}
