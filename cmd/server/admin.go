package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/diewo77/go-achats/internal/db"
	"github.com/diewo77/go-achats/internal/services"
)

var (
	sqlMigrations bool
	rollbackSteps int
	adminEmail    string
	adminPassword string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sqlMigrations {
			if cfg.Database.Driver != "postgres" {
				return errors.New("--sql requires DB_DRIVER=postgres")
			}
			if rollbackSteps > 0 {
				if err := db.RollbackSQLMigrations(cfg.Database.URL(), rollbackSteps); err != nil {
					return err
				}
				logger.Info("sql migrations rolled back", zap.Int("steps", rollbackSteps))
				return nil
			}
			version, err := db.RunSQLMigrations(cfg.Database.URL())
			if err != nil {
				return err
			}
			logger.Info("sql migrations applied", zap.Uint("version", version))
			return nil
		}
		conn, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		if err := db.Migrate(conn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations completed")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load permissions, profiles, payment referentials and departments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conn, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		if err := seed(conn); err != nil {
			return err
		}
		if adminEmail == "" {
			adminEmail = os.Getenv("ADMIN_EMAIL")
		}
		if adminPassword == "" {
			adminPassword = os.Getenv("ADMIN_PASSWORD")
		}
		created, err := db.EnsureAdmin(conn, adminEmail, adminPassword)
		if err != nil {
			return fmt.Errorf("admin user: %w", err)
		}
		if created {
			logger.Info("admin user created", zap.String("email", adminEmail))
		}
		logger.Info("seeding completed")
		return nil
	},
}

var caisseCmd = &cobra.Command{
	Use:   "caisse",
	Short: "Cash register maintenance",
}

var caisseVerifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Replay a caisse ledger and compare it with the stored balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		svc := services.NewCaisseService(services.Deps{DB: conn, Authz: services.AllowAll{}, Log: logger})
		c, err := svc.ByCode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		report, err := svc.Verify(cmd.Context(), c.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "caisse %s: %d mouvements\n", report.Code, report.Mouvements)
		fmt.Fprintf(out, "  solde initial  %s\n", report.SoldeInitial.StringFixed(2))
		fmt.Fprintf(out, "  solde stocké   %s\n", report.SoldeStocke.StringFixed(2))
		fmt.Fprintf(out, "  solde calculé  %s\n", report.SoldeCalcule.StringFixed(2))
		for _, a := range report.Anomalies {
			fmt.Fprintf(out, "  anomalie %s (#%d) %s: attendu %s, trouvé %s\n",
				a.Reference, a.MouvementID, a.Champ, a.Attendu.StringFixed(2), a.Trouve.StringFixed(2))
		}
		if !report.OK() {
			return fmt.Errorf("caisse %s: écart %s", report.Code, report.Ecart.StringFixed(2))
		}
		fmt.Fprintln(out, "  OK")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&sqlMigrations, "sql", false, "Apply the versioned SQL migrations instead of AutoMigrate (postgres)")
	migrateCmd.Flags().IntVar(&rollbackSteps, "rollback", 0, "With --sql, roll back this many migrations")
	seedCmd.Flags().StringVar(&adminEmail, "admin-email", "", "Create this admin user if missing (or ADMIN_EMAIL)")
	seedCmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password of the admin user (or ADMIN_PASSWORD)")
	caisseCmd.AddCommand(caisseVerifyCmd)
}
