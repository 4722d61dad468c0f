// Command issue-token signs a user token with the API's JWT settings.
//
//	issue-token <user-id> <privilege>
//
// privilege is one of collector, supervisor or admin.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vectorwatch/platform/pkg/common/config"
	"github.com/vectorwatch/platform/pkg/common/logger"
	"github.com/vectorwatch/platform/pkg/gateway/auth"
)

var privileges = map[string]int{
	"collector":  auth.PrivilegeCollector,
	"supervisor": auth.PrivilegeSupervisor,
	"admin":      auth.PrivilegeAdmin,
}

func main() {
	logger.Init("")
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}
	if err := run(os.Args[1:], cfg, os.Stdout); err != nil {
		logger.Log.WithError(err).Fatal("failed to issue token")
	}
}

func run(args []string, cfg *config.Config, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: issue-token <user-id> <collector|supervisor|admin>")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	privilege, ok := privileges[strings.ToLower(args[1])]
	if !ok {
		return fmt.Errorf("unknown privilege %q", args[1])
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}
	token, err := tokens.IssueToken(userID, privilege)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
