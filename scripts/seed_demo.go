// 本地联调用：写入一个示例科目和已选课的学生，并打印学生与教师的 JWT
//
// 用法: go run scripts/seed_demo.go [-config configs]

package main

import (
	"context"
	"eduai_backend/internal/config"
	"eduai_backend/internal/model"
	"eduai_backend/internal/repository"
	"eduai_backend/internal/util"
	"eduai_backend/pkg/database"
	"eduai_backend/pkg/logger"
	"flag"
	"fmt"
	"log"
	"time"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件所在目录")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg.ForceMigrate = true
	zl := logger.InitLogger(cfg)

	var store repository.Store
	switch cfg.Store.Backend {
	case config.StoreRedis:
		rdb, err := database.InitRedis(&cfg.Redis, zl)
		if err != nil {
			log.Fatalf("Redis 连接失败: %v", err)
		}
		defer rdb.Close()
		store = repository.NewRedisStore(rdb, cfg.Store.KeyPrefix)
	default:
		db, err := database.InitDB(cfg, zl)
		if err != nil {
			log.Fatalf("数据库连接失败: %v", err)
		}
		store = repository.NewGormStore(db)
	}

	ctx := context.Background()
	subject := &model.Subject{Name: "Mathematics", Description: "Demo subject", GradeLevel: 5, Language: "English"}
	if err := store.PutSubject(ctx, subject); err != nil {
		log.Fatalf("写入科目失败: %v", err)
	}

	student := &model.Student{
		Name:        "Demo Student",
		GradeLevel:  5,
		Language:    "English",
		Enrollments: []model.Enrollment{{SubjectID: subject.ID, EnrolledAt: time.Now()}},
	}
	if err := store.PutStudent(ctx, student); err != nil {
		log.Fatalf("写入学生失败: %v", err)
	}

	studentToken, err := util.GenerateJWT(student.ID, util.RoleStudent, cfg.JWT.Secret, cfg.JWT.ExpireTime)
	if err != nil {
		log.Fatalf("签发学生 token 失败: %v", err)
	}
	instructorToken, err := util.GenerateJWT(model.GenerateUUID(), util.RoleInstructor, cfg.JWT.Secret, cfg.JWT.ExpireTime)
	if err != nil {
		log.Fatalf("签发教师 token 失败: %v", err)
	}

	fmt.Printf("subject_id:       %s\n", subject.ID)
	fmt.Printf("student_id:       %s\n", student.ID)
	fmt.Printf("student_token:    %s\n", studentToken)
	fmt.Printf("instructor_token: %s\n", instructorToken)
}
