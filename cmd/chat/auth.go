package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matheus3301/socialchat/internal/auth"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/identity"
	"github.com/matheus3301/socialchat/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	authEmail    string
	authPassword string
	authName     string
	authAvatar   string
	authProvider string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account with email and password",
	Args:  cobra.NoArgs,
	RunE:  runSignup,
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with email and password, or with --provider",
	Long: `Sign in with email and password, or through an external provider.

With --provider google or --provider github the provider's sign-in page is
shown as a URL and a QR code; the command waits until the browser returns.`,
	Args: cobra.NoArgs,
	RunE: runSignin,
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear the stored session",
	Args:  cobra.NoArgs,
	RunE:  runSignout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the stored profile of the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runProfile,
}

func init() {
	signupCmd.Flags().StringVar(&authName, "name", "", "display name")
	signupCmd.Flags().StringVar(&authEmail, "email", "", "email address")
	signupCmd.Flags().StringVar(&authPassword, "password", "", "password (prompted when empty)")
	signupCmd.Flags().StringVar(&authAvatar, "avatar", "", "avatar image URL")
	_ = signupCmd.MarkFlagRequired("name")
	_ = signupCmd.MarkFlagRequired("email")

	signinCmd.Flags().StringVar(&authEmail, "email", "", "email address")
	signinCmd.Flags().StringVar(&authPassword, "password", "", "password (prompted when empty)")
	signinCmd.Flags().StringVar(&authProvider, "provider", "", "external provider: google or github")
	signinCmd.MarkFlagsMutuallyExclusive("email", "provider")

	profileCmd.Flags().StringVar(&authEmail, "email", "", "new email")
	profileCmd.Flags().StringVar(&authName, "name", "", "new display name")
	profileCmd.Flags().StringVar(&authAvatar, "avatar", "", "new avatar URL")
}

func runSignup(cmd *cobra.Command, _ []string) error {
	password, err := passwordOrPrompt()
	if err != nil {
		return err
	}
	var gw *auth.Gateway
	return runApp(cmd.Context(), false, func(ctx context.Context) error {
		ctx, cancel := oneShot(ctx)
		defer cancel()
		res, err := gw.SignUp(ctx, auth.SignUpRequest{
			Name:      authName,
			Email:     authEmail,
			Password:  password,
			AvatarURL: authAvatar,
		})
		var partial *auth.PartialSignUpError
		if errors.As(err, &partial) {
			return fmt.Errorf("account created with the provider but not on the server: %s; sign in once the server is reachable", partial.Cause.Message)
		}
		if err != nil {
			return err
		}
		printUser("Signed up as", res.User)
		return nil
	}, &gw)
}

func runSignin(cmd *cobra.Command, _ []string) error {
	var creds auth.Credentials
	if authProvider != "" {
		providerID, err := identity.ProviderID(authProvider)
		if err != nil {
			return err
		}
		creds = auth.Federated{ProviderID: providerID}
	} else {
		if authEmail == "" {
			return errors.New("--email or --provider is required")
		}
		password, err := passwordOrPrompt()
		if err != nil {
			return err
		}
		creds = auth.Password{Email: authEmail, Password: password}
	}

	var gw *auth.Gateway
	return runApp(cmd.Context(), false, func(ctx context.Context) error {
		ctx, cancel := oneShot(ctx)
		defer cancel()
		res, err := gw.SignIn(ctx, creds)
		if err != nil {
			return err
		}
		printUser("Signed in as", res.User)
		return nil
	}, &gw)
}

func runSignout(cmd *cobra.Command, _ []string) error {
	var gw *auth.Gateway
	return runApp(cmd.Context(), false, func(ctx context.Context) error {
		ctx, cancel := oneShot(ctx)
		defer cancel()
		if err := gw.SignOut(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	}, &gw)
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	var s *session.Store
	return runApp(cmd.Context(), false, func(context.Context) error {
		u := s.User()
		if u == nil || s.Token() == "" {
			fmt.Println("Not signed in.")
			return nil
		}
		printUser("Signed in as", u)
		return nil
	}, &s)
}

func runProfile(cmd *cobra.Command, _ []string) error {
	var patch chat.UserPatch
	if cmd.Flags().Changed("email") {
		patch.Email = &authEmail
	}
	if cmd.Flags().Changed("name") {
		patch.Name = &authName
	}
	if cmd.Flags().Changed("avatar") {
		patch.AvatarURL = &authAvatar
	}
	if patch == (chat.UserPatch{}) {
		return errors.New("nothing to update: pass --email, --name or --avatar")
	}

	var s *session.Store
	return runApp(cmd.Context(), false, func(context.Context) error {
		if !s.UpdateUser(patch) {
			return errors.New("not signed in")
		}
		printUser("Updated", s.User())
		return nil
	}, &s)
}

func printUser(prefix string, u *chat.User) {
	if u == nil {
		fmt.Println(prefix, "(unknown user)")
		return
	}
	line := fmt.Sprintf("%s %s", prefix, u.Name)
	if u.Email != "" {
		line += fmt.Sprintf(" <%s>", u.Email)
	}
	fmt.Printf("%s (id %s)\n", line, u.ID)
}

func passwordOrPrompt() (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	return readPassword(os.Stdin, os.Stderr)
}

// readPassword prompts on w and reads one line from in. A terminal is read
// with echo off.
func readPassword(in *os.File, w io.Writer) (string, error) {
	fmt.Fprint(w, "Password: ")
	var password string
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
