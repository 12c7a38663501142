package ecolensctl

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	clientsession "github.com/ecolens-api/internal/client/session"
	"github.com/ecolens-api/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

const (
	reasonPending = "pending_verification"
	reasonOTPSent = "otp_sent"
)

type options struct {
	baseURL     string
	sessionFile string
	timeout     time.Duration
}

// NewRootCommand builds the ecolensctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "ecolensctl",
		Short:        "Talk to the EcoLens API with a persisted cookie session",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", envOr("ECOLENS_BASE_URL", "http://localhost:3000"), "API base URL")
	cmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", defaultSessionPath(), "where session cookies are kept between runs")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall request timeout")

	cmd.AddCommand(
		newRegisterCommand(opts),
		newLoginCommand(opts),
		newVerifyCommand(opts),
		newMeCommand(opts),
		newLogoutCommand(opts),
		newPredictCommand(opts),
	)
	return cmd
}

func newRegisterCommand(opts *options) *cobra.Command {
	var req domain.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and confirm it with the emailed code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				res, err := m.Register(ctx, req)
				if err != nil {
					return err
				}
				if !res.OK() {
					return resultError(res)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return promptAndVerify(ctx, cmd, m, req.Email)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCommand(opts *options) *cobra.Command {
	var req domain.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, prompting for a code when the account is unverified",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				res, err := m.Login(ctx, req)
				if err != nil {
					return err
				}
				if !res.OK() {
					return resultError(res)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				switch res.Reason {
				case reasonPending, reasonOTPSent:
					return promptAndVerify(ctx, cmd, m, req.Email)
				}
				return printJSON(cmd.OutOrStdout(), m.CurrentUser())
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newVerifyCommand(opts *options) *cobra.Command {
	var code, email string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit a verification code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				return verify(ctx, cmd, m, code, email)
			})
		},
	}
	cmd.Flags().StringVar(&code, "otp", "", "the emailed code")
	cmd.Flags().StringVar(&email, "email", "", "account email, used when no verification cookie is stored")
	_ = cmd.MarkFlagRequired("otp")
	return cmd
}

func newMeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				if err := m.Init(ctx); err != nil {
					return err
				}
				if m.CurrentUser() == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), m.CurrentUser())
			})
		},
	}
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				if err := m.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newPredictCommand(opts *options) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify an image file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataURL, err := imageDataURL(image)
			if err != nil {
				return err
			}
			return withManager(cmd, opts, func(ctx context.Context, m *clientsession.Manager) error {
				preds, err := m.Predict(ctx, dataURL)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), preds)
			})
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "path to a JPEG, PNG or WebP file")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// withManager runs fn with a session manager backed by the session file and
// saves whatever cookies the API left behind.
func withManager(cmd *cobra.Command, opts *options, fn func(context.Context, *clientsession.Manager) error) error {
	base, err := url.Parse(strings.TrimRight(opts.baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid --base-url %q", opts.baseURL)
	}
	jar, err := openJar(opts.sessionFile, base)
	if err != nil {
		return err
	}
	m, err := clientsession.NewManager(clientsession.Config{
		BaseURL:    base.String(),
		HTTPClient: &http.Client{Jar: jar},
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	runErr := fn(ctx, m)
	if err := jar.save(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func promptAndVerify(ctx context.Context, cmd *cobra.Command, m *clientsession.Manager, email string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Enter the code sent to %s: ", email)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return errors.New("no code entered; run `ecolensctl verify --otp <code>` when it arrives")
	}
	return verify(ctx, cmd, m, code, email)
}

func verify(ctx context.Context, cmd *cobra.Command, m *clientsession.Manager, code, email string) error {
	var emailPtr *string
	if email != "" {
		emailPtr = &email
	}
	res, err := m.Verify(ctx, code, emailPtr)
	if err != nil {
		return err
	}
	if !res.OK() {
		return resultError(res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return printJSON(cmd.OutOrStdout(), res.User)
}

// imageDataURL reads path and encodes it as a base64 data URL with its
// detected image type.
func imageDataURL(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return encodeDataURL(raw)
}

func encodeDataURL(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("image is empty")
	}
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("not an image: detected %s", mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func resultError(res *clientsession.Result) error {
	msg := res.Error
	if msg == "" {
		msg = res.Message
	}
	if res.Reason != "" {
		return fmt.Errorf("%s (status %d, %s)", msg, res.StatusCode, res.Reason)
	}
	return fmt.Errorf("%s (status %d)", msg, res.StatusCode)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
