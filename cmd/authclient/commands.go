package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aelexs/authclient/internal/client"
	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/runner"
	"github.com/aelexs/authclient/internal/transport"
)

// maxConcurrentLookups bounds the parallel GETs issued by "user".
const maxConcurrentLookups = 8

type command struct {
	usage   string
	summary string
	minArgs int
	maxArgs int // -1 means unbounded
	run     func(ctx context.Context, env *runner.Env, args []string) error
}

var commands = map[string]command{
	"login": {
		usage:   "<email> <password>",
		summary: "log in and store the token pair",
		minArgs: 2, maxArgs: 2,
		run: runLogin,
	},
	"register": {
		usage:   "<email> <password> <full_name> [organization] [position] [department]",
		summary: "create an account and log in",
		minArgs: 3, maxArgs: 6,
		run: runRegister,
	},
	"logout": {
		usage:   "",
		summary: "forget the stored token pair",
		minArgs: 0, maxArgs: 0,
		run: runLogout,
	},
	"whoami": {
		usage:   "",
		summary: "show the stored session without contacting the server",
		minArgs: 0, maxArgs: 0,
		run: runWhoami,
	},
	"me": {
		usage:   "",
		summary: "fetch the logged-in user's profile",
		minArgs: 0, maxArgs: 0,
		run: runMe,
	},
	"user": {
		usage:   "<id>...",
		summary: "fetch one or more user profiles",
		minArgs: 1, maxArgs: -1,
		run: runUser,
	},
	"get": {
		usage:   "<path>",
		summary: "GET an API path and print the JSON response",
		minArgs: 1, maxArgs: 1,
		run: runGet,
	},
	"upload": {
		usage:   "<file>...",
		summary: "upload files to storage",
		minArgs: 1, maxArgs: -1,
		run: runUpload,
	},
	"download": {
		usage:   "<path> <dest>",
		summary: "download a stored file",
		minArgs: 2, maxArgs: 2,
		run: runDownload,
	},
}

func runLogin(ctx context.Context, env *runner.Env, args []string) error {
	session, err := env.Client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printSession(env.Stdout, session)
}

func runRegister(ctx context.Context, env *runner.Env, args []string) error {
	profile := client.Profile{
		Email:    args[0],
		Password: args[1],
		FullName: args[2],
	}
	optional := []*string{&profile.OrganizationName, &profile.Position, &profile.Department}
	for i, v := range args[3:] {
		*optional[i] = v
	}

	session, err := env.Client.Register(ctx, profile)
	if err != nil {
		return err
	}
	return printSession(env.Stdout, session)
}

func runLogout(ctx context.Context, env *runner.Env, _ []string) error {
	env.Client.Logout(ctx)
	_, err := fmt.Fprintln(env.Stdout, "logged out")
	return err
}

func runWhoami(_ context.Context, env *runner.Env, _ []string) error {
	session := env.Client.CurrentSession()
	if !session.Authenticated {
		fmt.Fprintln(env.Stdout, "not logged in")
		return domain.ErrAuthenticationExpired
	}
	if err := printSession(env.Stdout, session); err != nil {
		return err
	}

	claims, err := env.Client.Claims()
	if err != nil {
		// Opaque tokens are valid; there is just nothing more to show.
		return nil
	}
	if claims.Role != "" {
		fmt.Fprintf(env.Stdout, "role: %s\n", claims.Role)
	}
	if !claims.ExpiresAt.IsZero() {
		state := "valid"
		if domain.Expired(domain.RealClock{}, claims.ExpiresAt) {
			state = "expired, will refresh on next request"
		}
		fmt.Fprintf(env.Stdout, "access token expires: %s (%s)\n", claims.ExpiresAt.Local().Format(time.RFC3339), state)
	}
	return nil
}

func runMe(ctx context.Context, env *runner.Env, _ []string) error {
	body, err := env.Client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return printJSON(env.Stdout, body)
}

func runUser(ctx context.Context, env *runner.Env, args []string) error {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: user id %q", domain.ErrInvalidInput, a)
		}
		ids[i] = id
	}

	bodies := make([]json.RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, id := range ids {
		g.Go(func() error {
			body, err := env.Client.GetUser(gctx, id)
			if err != nil {
				return fmt.Errorf("user %d: %w", id, err)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, body := range bodies {
		if err := printJSON(env.Stdout, body); err != nil {
			return err
		}
	}
	return nil
}

func runGet(ctx context.Context, env *runner.Env, args []string) error {
	body, err := env.Client.Request(ctx, transport.NewRequest(http.MethodGet, args[0]))
	if err != nil {
		return err
	}
	return printJSON(env.Stdout, body)
}

func runUpload(ctx context.Context, env *runner.Env, args []string) error {
	files := make([]client.UploadFile, 0, len(args))
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		files = append(files, client.UploadFile{Name: filepath.Base(path), Content: f})
	}

	body, err := env.Client.Upload(ctx, client.UploadRequest{Files: files})
	if err != nil {
		return err
	}
	return printJSON(env.Stdout, body)
}

func runDownload(ctx context.Context, env *runner.Env, args []string) error {
	data, err := env.Client.Download(ctx, args[0])
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", args[1], err)
	}
	_, err = fmt.Fprintf(env.Stdout, "saved %d bytes to %s\n", len(data), args[1])
	return err
}

func printSession(w io.Writer, s client.Session) error {
	if s.SubjectID == nil {
		_, err := fmt.Fprintln(w, "logged in")
		return err
	}
	_, err := fmt.Fprintf(w, "logged in as user %d\n", *s.SubjectID)
	return err
}

func printJSON(w io.Writer, body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
