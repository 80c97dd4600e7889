// @title Progression Engine API
// @version 1.0
// @description 测验评分、难度调整与每周学习进度服务。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"progression_engine/internal/app"
	"progression_engine/internal/config"
	"progression_engine/internal/service"
	"progression_engine/pkg/database"
	"progression_engine/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir string
	migrate   bool
)

var rootCmd = &cobra.Command{
	Use:   "progression-engine",
	Short: "Adaptive assessment and weekly progression service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "只执行数据库迁移，完成后退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.ForceMigrate = true
		cfg.MigrateOnly = true

		logger.InitLogger(cfg)
		defer logger.Log.Sync()

		db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, true)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		log.Println("数据库迁移完成，退出程序")
		return nil
	},
}

var importBankCmd = &cobra.Command{
	Use:   "import-bank <file>",
	Short: "导入题库 YAML 文件，按课程/周/难度整体替换",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		bank, err := service.ParseBankFile(f)
		if err != nil {
			return err
		}

		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// 导入命令不需要评判服务与事件
		cfg.Evaluator.APIKey = ""
		cfg.Events.Enabled = false

		application := app.NewApp(cfg)
		defer logger.Log.Sync()
		defer application.Close(context.Background())

		n, err := application.ImportBank(cmd.Context(), bank)
		if err != nil {
			return err
		}
		logger.Log.Info("Question bank imported", zap.String("courseId", bank.CourseID), zap.Int("questions", n))
		return nil
	},
}

func serve() error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ForceMigrate = migrate

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	application.Run()
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "configs", "配置文件所在目录")
	rootCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importBankCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
