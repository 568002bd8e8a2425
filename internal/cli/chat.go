package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/keystone/internal/chatsync"
	"github.com/suPer8Hu/keystone/internal/client"
	"github.com/suPer8Hu/keystone/internal/config"
	"github.com/suPer8Hu/keystone/internal/logger"
)

const chatHelp = `Type a message to ask the assistant. Commands:
  /chats               list chats (* marks the active one)
  /new                 start a new chat
  /use <n|id>          switch to chat n from /chats
  /rename <title>      rename the active chat
  /delete [n|id]       delete a chat (default: active)
  /clear               delete every message in the active chat
  /reload              refetch the active chat's messages
  /name <username>     set your display name
  /avatar <path>       upload an avatar image
  /email <address>     change your email
  /password <new> <confirm>
  /whoami              show the signed-in account
  /signout             sign out and quit
  /quit                quit`

func newChatCommand(f *rootFlags) *cobra.Command {
	var signUp, save bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath
			if path == "" {
				path = config.DefaultClientPath()
			}
			cc, err := config.LoadClient(path)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("server"); v != "" {
				cc.Server = v
			}
			if v, _ := cmd.Flags().GetString("email"); v != "" {
				cc.Email = v
			}
			if cmd.Flags().Changed("async") {
				cc.Async, _ = cmd.Flags().GetBool("async")
			}
			if save {
				if err := config.SaveClient(path, cc); err != nil {
					return err
				}
			}

			level := f.logLevel
			if level == "" {
				level = "error"
			}
			log := logger.Setup(os.Stderr, level)
			return runChat(cmd.Context(), cc, signUp, log)
		},
	}
	cmd.Flags().String("server", "", "API base URL")
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().Bool("async", false, "complete through the job queue")
	cmd.Flags().BoolVar(&signUp, "signup", false, "create the account instead of signing in")
	cmd.Flags().BoolVar(&save, "save", false, "write the effective settings back to the config file")
	return cmd
}

func runChat(ctx context.Context, cc config.Client, signUp bool, log *slog.Logger) error {
	opts := []client.Option{client.WithHTTPClient(&http.Client{Timeout: cc.Timeout})}
	if cc.Async {
		opts = append(opts, client.WithAsyncCompletion(cc.PollInterval))
	}
	api := client.New(cc.Server, opts...)

	syncer, err := chatsync.New(api, api,
		chatsync.WithAuth(api),
		chatsync.WithObjectStorage(api),
		chatsync.WithLogger(log),
	)
	if err != nil {
		return err
	}
	sess := chatsync.NewSession(syncer)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()
	if cc.HistoryFile != "" {
		if fh, err := os.Open(cc.HistoryFile); err == nil {
			_, _ = line.ReadHistory(fh)
			fh.Close()
		}
		defer func() {
			if fh, err := os.Create(cc.HistoryFile); err == nil {
				_, _ = line.WriteHistory(fh)
				fh.Close()
			}
		}()
	}

	email := cc.Email
	if email == "" {
		if email, err = line.Prompt("email: "); err != nil {
			return nil
		}
	}
	password := cc.Password
	if password == "" {
		if password, err = line.PasswordPrompt("password: "); err != nil {
			return nil
		}
	}

	authFn := sess.SignIn
	if signUp {
		authFn = sess.SignUp
	}
	if err := authFn(ctx, strings.TrimSpace(email), password); err != nil {
		return describe(err)
	}

	r := &repl{sess: sess, out: os.Stdout, readFile: os.ReadFile}
	r.banner()
	for {
		input, err := line.Prompt("keystone> ")
		if err != nil {
			// ctrl-c or ctrl-d
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := r.exec(ctx, input)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", describe(err))
		}
		if quit {
			return nil
		}
	}
}

// describe turns remote failures into the message the server sent.
func describe(err error) error {
	var re *chatsync.RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return errors.New(re.Message)
	}
	return err
}

type repl struct {
	sess     *chatsync.Session
	out      io.Writer
	readFile func(string) ([]byte, error)
}

func (r *repl) banner() {
	st := r.sess.State()
	if st.User != nil {
		fmt.Fprintf(r.out, "signed in as %s. /help for commands.\n", st.User.Email)
	}
	r.printMessages(st.Messages)
}

// exec runs one line of input and reports whether the loop should stop.
func (r *repl) exec(ctx context.Context, input string) (bool, error) {
	if !strings.HasPrefix(input, "/") {
		before := len(r.sess.State().Messages)
		if err := r.sess.Send(ctx, input); err != nil {
			return false, err
		}
		msgs := r.sess.State().Messages
		for _, m := range msgs[min(before, len(msgs)):] {
			if m.Sender == chatsync.SenderBot {
				r.printMessages([]chatsync.ChatMessage{m})
			}
		}
		return false, nil
	}

	name, arg, _ := strings.Cut(input[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help", "?":
		fmt.Fprintln(r.out, chatHelp)
	case "quit", "exit", "q":
		return true, nil
	case "chats":
		r.printChats()
	case "new":
		if err := r.sess.NewChat(ctx); err != nil {
			return false, err
		}
		r.printChats()
	case "use":
		id, err := r.resolveChat(arg)
		if err != nil {
			return false, err
		}
		if err := r.sess.SelectChat(ctx, id); err != nil {
			return false, err
		}
		r.printMessages(r.sess.State().Messages)
	case "rename":
		if arg == "" {
			return false, errors.New("usage: /rename <title>")
		}
		return false, r.sess.RenameChat(ctx, r.sess.State().ActiveChatID, arg)
	case "delete":
		id := r.sess.State().ActiveChatID
		if arg != "" {
			var err error
			if id, err = r.resolveChat(arg); err != nil {
				return false, err
			}
		}
		if err := r.sess.DeleteChat(ctx, id); err != nil {
			return false, err
		}
		r.printChats()
	case "clear":
		return false, r.sess.ClearChat(ctx)
	case "reload":
		if err := r.sess.Reload(ctx); err != nil {
			return false, err
		}
		r.printMessages(r.sess.State().Messages)
	case "name":
		if arg == "" {
			return false, errors.New("usage: /name <username>")
		}
		return false, r.saveSettings(ctx, chatsync.Settings{Username: arg})
	case "avatar":
		if arg == "" {
			return false, errors.New("usage: /avatar <path>")
		}
		data, err := r.readFile(arg)
		if err != nil {
			return false, err
		}
		return false, r.saveSettings(ctx, chatsync.Settings{
			Avatar: &chatsync.Avatar{FileName: filepath.Base(arg), Data: data},
		})
	case "email":
		if arg == "" {
			return false, errors.New("usage: /email <address>")
		}
		return false, r.saveSettings(ctx, chatsync.Settings{Email: arg})
	case "password":
		pw, confirm, _ := strings.Cut(arg, " ")
		if pw == "" {
			return false, errors.New("usage: /password <new> <confirm>")
		}
		return false, r.saveSettings(ctx, chatsync.Settings{Password: pw, ConfirmPassword: strings.TrimSpace(confirm)})
	case "whoami":
		r.printAccount()
	case "signout":
		if err := r.sess.SignOut(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "signed out")
		return true, nil
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}

func (r *repl) saveSettings(ctx context.Context, in chatsync.Settings) error {
	if err := r.sess.SaveSettings(ctx, in); err != nil {
		return err
	}
	r.printAccount()
	return nil
}

// resolveChat accepts a 1-based position from /chats or a chat id.
func (r *repl) resolveChat(arg string) (string, error) {
	chats := r.sess.State().Chats
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat #%d", n)
		}
		return chats[n-1].ID, nil
	}
	if arg == "" {
		return "", errors.New("which chat?")
	}
	return arg, nil
}

func (r *repl) printChats() {
	st := r.sess.State()
	for i, c := range st.Chats {
		mark := " "
		if c.ID == st.ActiveChatID {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s (#%d, %s)\n", mark, i+1, c.Title, c.SequenceNumber, c.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func (r *repl) printMessages(msgs []chatsync.ChatMessage) {
	for _, m := range msgs {
		who := "you"
		if m.Sender == chatsync.SenderBot {
			who = "assistant"
		}
		fmt.Fprintf(r.out, "%s> %s\n", who, m.Content)
	}
}

func (r *repl) printAccount() {
	st := r.sess.State()
	if st.User == nil {
		fmt.Fprintln(r.out, "not signed in")
		return
	}
	fmt.Fprintf(r.out, "email: %s\n", st.User.Email)
	if p := st.Profile; p != nil {
		if p.Username != nil {
			fmt.Fprintf(r.out, "username: %s\n", *p.Username)
		}
		if p.AvatarURL != nil {
			fmt.Fprintf(r.out, "avatar: %s\n", *p.AvatarURL)
		}
	}
}
