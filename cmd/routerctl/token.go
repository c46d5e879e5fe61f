package main

import (
	"fmt"

	"RouterGate/pkg/config"
	"RouterGate/pkg/utils"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		cfgPath  string
		username string
		userID   int64
		tenantID int64
		role     string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a gateway JWT signed with the configured secret",
		Long: `Mint a gateway JWT signed with the jwt.secret of a gateway config file.
Example:
  routerctl token --config config.gateway.yaml --tenant 1 --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitFromFile(cfgPath); err != nil {
				return err
			}
			utils.SetJWTConfig(config.Conf.JWTConfig)
			tok, err := utils.GenerateToken(username, userID, tenantID, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "config.gateway.yaml", "gateway config file")
	f.StringVar(&username, "user", "operator", "user name claim")
	f.Int64Var(&userID, "uid", 1, "user id claim")
	f.Int64Var(&tenantID, "tenant", 1, "tenant id claim")
	f.StringVar(&role, "role", "user", "role claim (admin may execute raw commands)")
	return cmd
}
