// seed inserts development sample data: one admin, instructors, students and published courses.
// Idempotent: skips everything if the admin user (admin@example.com) already exists.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"elearning-marketplace/backend/internal/config"
	"elearning-marketplace/backend/internal/course/domain"
	courserepo "elearning-marketplace/backend/internal/course/repository"
	"elearning-marketplace/backend/internal/db"
	"elearning-marketplace/backend/internal/db/uow"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/security"
	userdomain "elearning-marketplace/backend/internal/user/domain"
	userrepo "elearning-marketplace/backend/internal/user/repository"
)

const (
	adminEmail  = "admin@example.com"
	devPassword = "password123"
)

type options struct {
	instructors int
	students    int
	courses     int
	seed        int64
}

type result struct {
	users   int
	courses int
	skipped bool
}

func main() {
	var opts options
	flag.IntVar(&opts.instructors, "instructors", 3, "number of instructors")
	flag.IntVar(&opts.students, "students", 10, "number of students")
	flag.IntVar(&opts.courses, "courses", 6, "number of courses")
	flag.Int64Var(&opts.seed, "seed", 42, "faker seed; same seed, same data")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env)
	if cfg.DatabaseURL == "" {
		log.Error(ctx, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error(ctx, "db", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	m := uow.NewPostgresManager(conn)
	hasher := security.NewHasher(cfg.Argon2MemoryKB, cfg.Argon2Iterations)
	res, err := seed(ctx, userrepo.NewPostgresRepository(conn), m.Repos().Courses(), hasher, opts)
	if err != nil {
		log.Error(ctx, "seed failed", "error", err)
		os.Exit(1)
	}
	if res.skipped {
		log.Info(ctx, "seed already applied; skipping", "admin", adminEmail)
		return
	}
	log.Info(ctx, "seed applied", "users", res.users, "courses", res.courses, "password", devPassword)
}

func seed(ctx context.Context, users userrepo.Repository, courses courserepo.Repository, hasher *security.Hasher, opts options) (result, error) {
	existing, err := users.GetByIdentifier(ctx, adminEmail)
	if err != nil {
		return result{}, fmt.Errorf("seed check: %w", err)
	}
	if existing != nil {
		return result{skipped: true}, nil
	}

	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		return result{}, fmt.Errorf("hash password: %w", err)
	}
	faker := gofakeit.New(opts.seed)
	var res result

	create := func(email, username, name string, role userdomain.Role) (*userdomain.User, error) {
		u, err := userdomain.NewUser(email, username, name, hash, role)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", email, err)
		}
		if err := users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %s: %w", email, err)
		}
		res.users++
		return u, nil
	}

	if _, err := create(adminEmail, "admin", "Platform Admin", userdomain.RoleAdmin); err != nil {
		return res, err
	}
	instructors := make([]*userdomain.User, 0, opts.instructors)
	for i := 0; i < opts.instructors; i++ {
		p := faker.Person()
		u, err := create(fmt.Sprintf("instructor%d@example.com", i+1), fmt.Sprintf("instructor%d", i+1), p.FirstName+" "+p.LastName, userdomain.RoleInstructor)
		if err != nil {
			return res, err
		}
		instructors = append(instructors, u)
	}
	for i := 0; i < opts.students; i++ {
		p := faker.Person()
		if _, err := create(fmt.Sprintf("student%d@example.com", i+1), fmt.Sprintf("student%d", i+1), p.FirstName+" "+p.LastName, userdomain.RoleStudent); err != nil {
			return res, err
		}
	}

	now := time.Now().UTC()
	for i := 0; i < opts.courses; i++ {
		c := &domain.Course{
			ID:         uuid.NewString(),
			Title:      strings.TrimSpace(faker.HipsterSentence(4)),
			PriceMinor: int64(faker.IntRange(20, 400)) * 1000 * 100,
			Currency:   "COP",
			Published:  i%4 != 3,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if len(instructors) > 0 {
			c.InstructorID = instructors[i%len(instructors)].ID
		}
		if i%2 == 0 {
			max := faker.IntRange(5, 40)
			c.MaxStudents = &max
		}
		if err := courses.Create(ctx, c); err != nil {
			return res, fmt.Errorf("create course: %w", err)
		}
		res.courses++
	}
	return res, nil
}
