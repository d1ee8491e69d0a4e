package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denniswebb/iptpanel/internal/config"
	"github.com/denniswebb/iptpanel/internal/session"
)

// LoginCmd stores the panel server address.
var LoginCmd = &cobra.Command{
	Use:   "login <server-ip>",
	Short: "Remember the panel server for the next 30 minutes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore()
		if err != nil {
			return err
		}
		sess, err := store.Login(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in to %s until %s\n", sess.Address, sess.ExpiresAt(store.TTL()).Local().Format(time.Kitchen))
		return nil
	},
}

// LogoutCmd forgets the stored server address.
var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored panel server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore()
		if err != nil {
			return err
		}
		if err := store.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

func sessionStore() (*session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.SessionTTLDuration()
	if err != nil {
		return nil, err
	}
	return session.NewStore(cfg.SessionFile, ttl), nil
}

// serverAddress returns --server when set, otherwise the logged-in address.
func serverAddress() (string, error) {
	if server := viper.GetString("server"); server != "" {
		return server, nil
	}
	store, err := sessionStore()
	if err != nil {
		return "", err
	}
	sess, err := store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return "", fmt.Errorf("%w: run \"iptpanel login <server-ip>\" or pass --server", err)
	}
	if err != nil {
		return "", err
	}
	return sess.Address, nil
}
