package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/app"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/database"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

func (c *cli) flagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet("clinicctl "+name, pflag.ContinueOnError)
	fs.SetOutput(c.stdout)
	config := fs.StringP("config", "c", "", "Path to configuration directory")
	return fs, config
}

func (c *cli) seed(ctx context.Context, args []string) error {
	fs, configPath := c.flagSet("seed")
	vocabulary := fs.String("vocabulary", "", "YAML file with extra permission definitions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *vocabulary == "" {
		*vocabulary = cfg.Permissions.Vocabulary
	}

	if *vocabulary != "" {
		added, err := permissions.LoadVocabularyFile(*vocabulary)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "registered %d new permission(s) from %s\n", len(added), *vocabulary)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	var count int64
	if err := db.WithContext(ctx).Model(&models.Permission{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count permissions: %w", err)
	}
	fmt.Fprintf(c.stdout, "vocabulary synchronised: %d permission(s)\n", count)
	return nil
}

func (c *cli) createAdmin(ctx context.Context, args []string) error {
	fs, configPath := c.flagSet("create-admin")
	username := fs.StringP("username", "u", "", "Login name of the administrator")
	email := fs.StringP("email", "e", "", "Email address of the administrator")
	password := fs.StringP("password", "p", "", "Password; prompted for when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*email) == "" {
		return errors.New("--username and --email are required")
	}

	if *password == "" {
		entered, err := c.readPassword("Password: ", c.stdin, c.stdout)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		*password = entered
	}
	if err := providers.ValidatePasswordStrength(*password); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		local, err := providers.NewLocalProvider(tx, cfg.Auth.LocalProviderConfig())
		if err != nil {
			return err
		}
		user, err := local.CreateUser(ctx, providers.RegisterInput{
			Username: *username,
			Email:    *email,
			Password: *password,
		})
		if err != nil {
			return err
		}

		var admin models.Role
		if err := tx.Where("name = ?", database.AdminRoleName).Take(&admin).Error; err != nil {
			return fmt.Errorf("load admin role: %w", err)
		}
		return tx.Model(user).Association("Roles").Append(&admin)
	})
	if err != nil {
		if errors.Is(err, providers.ErrIdentityTaken) {
			return fmt.Errorf("username or email %q/%q already exists", *username, *email)
		}
		return err
	}

	fmt.Fprintf(c.stdout, "administrator %s created\n", *username)
	return nil
}

func loadConfig(path string) (*app.Config, error) {
	var paths []string
	if strings.TrimSpace(path) != "" {
		paths = append(paths, path)
	}
	return app.LoadConfig(paths...)
}

func openDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.ConnectionConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// terminalPassword reads without echo when stdin is a terminal and falls
// back to a plain line read for piped input.
func terminalPassword(prompt string, stdin io.Reader, stdout io.Writer) (string, error) {
	fmt.Fprint(stdout, prompt)
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
