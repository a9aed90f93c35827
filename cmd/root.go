package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"brand-camera-server/modules/common/logger"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brand-camera",
		Short: "Brand Camera image generation server and client",
		Long: `Brand Camera turns a product photo into studio, model and lifestyle shots.

"serve" runs the HTTP API. "generate" and "tasks" drive a running server
and keep a local copy of every task.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 파일은 있으면 로드
			_ = godotenv.Load()
			logger.Init(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newTasksCmd())

	return cmd
}
