// Command seed-students creates demo student accounts for local development.
// Usernames are student1..studentN and every account shares one password.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/database"
	"github.com/inkgrade/inkgrade-backend/internal/logger"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
)

func main() {
	var (
		password string
		count    int
	)
	flag.StringVar(&password, "password", "inkgrade-demo", "password shared by all seeded accounts")
	flag.IntVar(&count, "count", 50, "number of accounts to create")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	// One hash for every account; hashing N times at cost 10 is just slow.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	fmt.Printf("Seeding %d students...\n", count)

	created := 0
	for i := 1; i <= count; i++ {
		student := &model.Student{
			Username:     fmt.Sprintf("student%d", i),
			Name:         demoName(i),
			PasswordHash: string(hash),
			IsActive:     true,
		}

		err := studentRepo.Create(ctx, student)
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			fmt.Printf("skipping %s: username already exists\n", student.Username)
		case err != nil:
			fmt.Printf("error creating %s: %v\n", student.Username, err)
		default:
			created++
		}
	}

	fmt.Printf("Done: %d/%d students created.\n", created, count)
}

// demoName composes a deterministic display name so re-runs produce the same
// roster.
func demoName(i int) string {
	first := []string{"Adi", "Budi", "Citra", "Dewi", "Eka", "Fajar", "Gita", "Hana", "Indra", "Joko"}
	last := []string{"Santoso", "Wijaya", "Lestari", "Pratama", "Susanto", "Putri", "Halim", "Kusuma", "Saputra", "Maharani"}
	return first[(i-1)%len(first)] + " " + last[((i-1)/len(first))%len(last)]
}
