package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

var loginCmd = &cobra.Command{
	Use:   "login <platform>",
	Short: "Log into a platform interactively",
	Long: `Open a visible browser, log into the platform's partner portal with
the configured credentials, and persist the captured session.

Anti-bot challenges that require a human (press-and-hold) must be solved
in the browser window; the tool waits for the portal, it never solves
challenges itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoginCmd,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLoginCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	platforms, err := resolvePlatforms(args)
	if err != nil {
		return err
	}
	platformID := platforms[0]

	mgr, _, err := a.manager(platformID)
	if err != nil {
		return err
	}

	// Always a visible window: logins are where the portals push their
	// hardest challenges, and headless Chrome is what they screen for.
	pg, closePage, err := a.newPage(platformID, false)
	if err != nil {
		return err
	}
	defer closePage()

	fmt.Printf("Logging into %s...\n", platformID)
	ready, err := mgr.EnsureReady(cmd.Context(), pg, auth.AllowInteractive)
	if err != nil {
		return err
	}

	exp := session.ExpiryOf(ready.Session)
	fmt.Printf("Session saved")
	if !exp.IsZero() {
		fmt.Printf(", valid until %s", exp.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	if n := len(ready.Session.EntityCache); n > 0 {
		fmt.Printf("%d entities cached\n", n)
	}
	return nil
}
