// Command operator creates operator accounts or prints a bcrypt hash for a
// password.
//
//	operator create --username dispatch --full-name "Dispatch Desk" --role admin
//	operator hash
//
// The password is read from CAREPATH_PASSWORD or, when unset, from the first
// line of stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/app"
	"github.com/FooledKiwi/carepath/internal/logger"
	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

type globalOptions struct {
	Logger logger.Logger `group:"Logger options"`
}

type createCommand struct {
	DBDSN    string `long:"db-dsn"    env:"DB_DSN" description:"PostgreSQL connection string" required:"true"`
	Username string `long:"username"  description:"Login name" required:"true"`
	FullName string `long:"full-name" description:"Display name" required:"true"`
	Role     string `long:"role"      description:"Operator role" choice:"admin" choice:"viewer" default:"viewer"`
}

func (c *createCommand) Execute([]string) error {
	password, err := readPassword()
	if err != nil {
		return err
	}

	pool, err := app.OpenPool(c.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	auth := service.NewAuthService(storage.NewOperatorsRepository(pool), storage.NewRefreshTokensRepository(pool), "", 0, 0)
	op, err := auth.CreateOperator(ctx, c.Username, password, c.FullName, c.Role)
	if err != nil {
		return err
	}
	log.Info().Int32("id", op.ID).Str("username", op.Username).Str("role", op.Role).Msg("operator created")
	return nil
}

type hashCommand struct{}

func (hashCommand) Execute([]string) error {
	password, err := readPassword()
	if err != nil {
		return err
	}
	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func readPassword() (string, error) {
	if pw := os.Getenv("CAREPATH_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func main() {
	_ = godotenv.Load()

	var opts globalOptions
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		opts.Logger.Setup()
		return cmd.Execute(args)
	}
	if _, err := parser.AddCommand("create", "Create an operator", "Create an active operator account.", &createCommand{}); err != nil {
		log.Fatal().Err(err).Send()
	}
	if _, err := parser.AddCommand("hash", "Hash a password", "Print the bcrypt hash of a password.", &hashCommand{}); err != nil {
		log.Fatal().Err(err).Send()
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Error().Err(err).Msg("operator command failed")
		os.Exit(1)
	}
}
