package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/pubengine/actions"
	"github.com/spf13/cobra"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func setupCmd() *cobra.Command {
	var params actions.SetupParams

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a local account",
		Long: `Create an account with its actor and key pair. The password is read from
PUBENGINE_PASSWORD or, when unset, from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			if params.Password, err = readPassword(cmd.InOrStdin()); err != nil {
				return err
			}

			store, err := openStorage(conf)
			if err != nil {
				return err
			}
			defer store.Close()

			actor, err := newApp(conf, store).actions.SetupAccount(cmd.Context(), params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render("Account created"))
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("handle:"), actor.Handle())
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("actor: "), actor.Id)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Email, "email", "", "login email")
	cmd.Flags().StringVar(&params.Username, "username", "", "username, 1-30 of a-z, 0-9 and _")
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().StringVar(&params.Summary, "summary", "", "profile summary")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func readPassword(in io.Reader) (string, error) {
	if password := os.Getenv("PUBENGINE_PASSWORD"); password != "" {
		return password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("no password given")
	}
	return password, nil
}
