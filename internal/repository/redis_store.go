package repository

import (
	"context"
	"eduai_backend/internal/model"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore 键值后端：每类实体一个 key 空间，二级索引用有序集合维护。
//
//	{p}:lesson:{id}                              JSON
//	{p}:idx:lesson:subject:{subject}             zset score=order
//	{p}:idx:lesson:subject_lang:{subject}:{lang} zset score=order
//	{p}:idx:task:lesson:{lesson}                 zset score=序号
//	{p}:idx:quiz:lesson_student:{lesson}:{stu}   zset score=version
//	{p}:idx:quiz:subject_student:{subject}:{stu} zset score=创建时间
//	{p}:idx:quiz:student:{stu}                   zset score=创建时间
//	{p}:quizver:{lesson}:{stu}:{version}         版本占位，配合 WATCH 实现条件写
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "eduai"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) lessonKey(id string) string  { return s.key("lesson", id) }
func (s *RedisStore) taskKey(id string) string    { return s.key("task", id) }
func (s *RedisStore) quizKey(id string) string    { return s.key("quiz", id) }
func (s *RedisStore) subjectKey(id string) string { return s.key("subject", id) }
func (s *RedisStore) studentKey(id string) string { return s.key("student", id) }

func (s *RedisStore) quizVersionKey(q *model.Quiz) string {
	return s.key("quizver", q.LessonID, q.StudentID, strconv.Itoa(q.Version))
}

func (s *RedisStore) lessonIndex(q LessonQuery) string {
	if q.Language == "" {
		return s.key("idx", "lesson", "subject", q.SubjectID)
	}
	return s.key("idx", "lesson", "subject_lang", q.SubjectID, q.Language)
}

func (s *RedisStore) quizIndex(q QuizQuery) (string, error) {
	switch q.Index {
	case QuizByLessonStudent:
		return s.key("idx", "quiz", "lesson_student", q.LessonID, q.StudentID), nil
	case QuizBySubjectStudent:
		return s.key("idx", "quiz", "subject_student", q.SubjectID, q.StudentID), nil
	case QuizByStudent:
		return s.key("idx", "quiz", "student", q.StudentID), nil
	}
	return "", fmt.Errorf("unknown quiz index %d", q.Index)
}

func (s *RedisStore) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrRecordNotFound
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *RedisStore) GetLesson(ctx context.Context, id string) (*model.Lesson, error) {
	var lesson model.Lesson
	if err := s.getJSON(ctx, s.lessonKey(id), &lesson); err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (s *RedisStore) PutLesson(ctx context.Context, lesson *model.Lesson) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.stageLesson(ctx, pipe, lesson)
	})
	return err
}

func (s *RedisStore) stageLesson(ctx context.Context, pipe redis.Pipeliner, lesson *model.Lesson) error {
	lesson.EnsureID(s.now())
	data, err := json.Marshal(lesson)
	if err != nil {
		return err
	}
	member := &redis.Z{Score: float64(lesson.Order), Member: lesson.ID}
	pipe.Set(ctx, s.lessonKey(lesson.ID), data, 0)
	pipe.ZAdd(ctx, s.lessonIndex(LessonQuery{SubjectID: lesson.SubjectID}), member)
	pipe.ZAdd(ctx, s.lessonIndex(LessonQuery{SubjectID: lesson.SubjectID, Language: lesson.Language}), member)
	return nil
}

func (s *RedisStore) NextLessonOrder(ctx context.Context, subjectID string) (int, error) {
	top, err := s.rdb.ZRevRangeWithScores(ctx, s.lessonIndex(LessonQuery{SubjectID: subjectID}), 0, 0).Result()
	if err != nil {
		return 0, err
	}
	if len(top) == 0 {
		return 1, nil
	}
	return int(top[0].Score) + 1, nil
}

func (s *RedisStore) QueryLessons(ctx context.Context, q LessonQuery, page Page) (*PageResult[model.Lesson], error) {
	offset, limit, err := page.bounds()
	if err != nil {
		return nil, err
	}
	lessons, more, err := queryIndex[model.Lesson](ctx, s, s.lessonIndex(q), s.lessonKey, offset, limit)
	if err != nil {
		return nil, err
	}
	return pageOf(lessons, more, offset, limit), nil
}

func (s *RedisStore) QueryPracticeTasks(ctx context.Context, lessonID string) ([]model.PracticeTask, error) {
	tasks, _, err := queryIndex[model.PracticeTask](ctx, s, s.key("idx", "task", "lesson", lessonID), s.taskKey, 0, -1)
	return tasks, err
}

func (s *RedisStore) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := s.getJSON(ctx, s.quizKey(id), &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (s *RedisStore) QueryQuizzes(ctx context.Context, q QuizQuery, page Page) (*PageResult[model.Quiz], error) {
	offset, limit, err := page.bounds()
	if err != nil {
		return nil, err
	}
	idx, err := s.quizIndex(q)
	if err != nil {
		return nil, err
	}
	quizzes, more, err := queryIndex[model.Quiz](ctx, s, idx, s.quizKey, offset, limit)
	if err != nil {
		return nil, err
	}
	return pageOf(quizzes, more, offset, limit), nil
}

func (s *RedisStore) stageQuiz(ctx context.Context, pipe redis.Pipeliner, quiz *model.Quiz) error {
	quiz.EnsureID(s.now())
	data, err := json.Marshal(quiz)
	if err != nil {
		return err
	}
	created := float64(quiz.CreatedAt.UnixMilli())
	pipe.Set(ctx, s.quizKey(quiz.ID), data, 0)
	pipe.Set(ctx, s.quizVersionKey(quiz), quiz.ID, 0)
	pipe.ZAdd(ctx, s.key("idx", "quiz", "lesson_student", quiz.LessonID, quiz.StudentID),
		&redis.Z{Score: float64(quiz.Version), Member: quiz.ID})
	if quiz.StudentID != "" {
		pipe.ZAdd(ctx, s.key("idx", "quiz", "subject_student", quiz.SubjectID, quiz.StudentID),
			&redis.Z{Score: created, Member: quiz.ID})
		pipe.ZAdd(ctx, s.key("idx", "quiz", "student", quiz.StudentID),
			&redis.Z{Score: created, Member: quiz.ID})
	}
	return nil
}

// CreateQuiz WATCH 版本占位 key，EXISTS 检查后在 MULTI/EXEC 中写入
func (s *RedisStore) CreateQuiz(ctx context.Context, quiz *model.Quiz) error {
	claim := s.quizVersionKey(quiz)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, claim).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.stageQuiz(ctx, pipe, quiz)
		})
		return err
	}, claim)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// SubmitQuiz WATCH 测验 key，确认未提交后覆盖写入
func (s *RedisStore) SubmitQuiz(ctx context.Context, quiz *model.Quiz) error {
	key := s.quizKey(quiz.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRecordNotFound
			}
			return err
		}
		var current model.Quiz
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Submitted() {
			return ErrAlreadySubmitted
		}

		quiz.UpdatedAt = s.now()
		updated, err := json.Marshal(quiz)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrAlreadySubmitted
	}
	return err
}

func (s *RedisStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var subject model.Subject
	if err := s.getJSON(ctx, s.subjectKey(id), &subject); err != nil {
		return nil, err
	}
	return &subject, nil
}

func (s *RedisStore) PutSubject(ctx context.Context, subject *model.Subject) error {
	subject.EnsureID(s.now())
	data, err := json.Marshal(subject)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.subjectKey(subject.ID), data, 0).Err()
}

func (s *RedisStore) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var student model.Student
	if err := s.getJSON(ctx, s.studentKey(id), &student); err != nil {
		return nil, err
	}
	return &student, nil
}

// PutStudent 选课记录内嵌在学生文档中
func (s *RedisStore) PutStudent(ctx context.Context, student *model.Student) error {
	student.EnsureID(s.now())
	for i := range student.Enrollments {
		student.Enrollments[i].StudentID = student.ID
	}
	data, err := json.Marshal(student)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.studentKey(student.ID), data, 0).Err()
}

func (s *RedisStore) Begin(ctx context.Context) Tx {
	return &redisTx{store: s}
}

// queryIndex 按偏移量读取索引成员并 MGET 实体；limit 为负时读取全部。
// 索引指向已不存在的实体时跳过，是否还有下一页按索引成员数判断。
func queryIndex[T any](ctx context.Context, s *RedisStore, index string, keyOf func(string) string, offset, limit int) ([]T, bool, error) {
	stop := int64(-1)
	if limit >= 0 {
		// 多取一条用于判断下一页
		stop = int64(offset + limit)
	}
	ids, err := s.rdb.ZRange(ctx, index, int64(offset), stop).Result()
	if err != nil {
		return nil, false, err
	}
	more := limit >= 0 && len(ids) > limit
	if more {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return nil, more, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyOf(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, false, err
	}

	items := make([]T, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}
	return items, more, nil
}

// redisTx 暂存实体，Commit 时通过一次 MULTI/EXEC 写入。
// 模板测验的版本占位 key 被 WATCH，冲突时整体放弃。
type redisTx struct {
	store  *RedisStore
	staged []any
	closed bool
}

func (t *redisTx) Stage(entity any) error {
	if t.closed {
		return ErrTxClosed
	}
	switch entity.(type) {
	case *model.Lesson, *model.PracticeTask, *model.Quiz:
		t.staged = append(t.staged, entity)
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, entity)
}

func (t *redisTx) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	s := t.store

	var claims []string
	for _, entity := range t.staged {
		if q, ok := entity.(*model.Quiz); ok {
			claims = append(claims, s.quizVersionKey(q))
		}
	}

	write := func(tx *redis.Tx) error {
		for _, claim := range claims {
			n, err := tx.Exists(ctx, claim).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrVersionConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			taskSeq := 0
			for _, entity := range t.staged {
				switch e := entity.(type) {
				case *model.Lesson:
					if err := s.stageLesson(ctx, pipe, e); err != nil {
						return err
					}
				case *model.PracticeTask:
					e.EnsureID(s.now())
					data, err := json.Marshal(e)
					if err != nil {
						return err
					}
					pipe.Set(ctx, s.taskKey(e.ID), data, 0)
					pipe.ZAdd(ctx, s.key("idx", "task", "lesson", e.LessonID),
						&redis.Z{Score: float64(taskSeq), Member: e.ID})
					taskSeq++
				case *model.Quiz:
					if err := s.stageQuiz(ctx, pipe, e); err != nil {
						return err
					}
				}
			}
			return nil
		})
		return err
	}

	var err error
	if len(claims) > 0 {
		err = s.rdb.Watch(ctx, write, claims...)
	} else {
		err = s.rdb.Watch(ctx, write, t.watchKeys()...)
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (t *redisTx) watchKeys() []string {
	keys := make([]string, 0, len(t.staged))
	for _, entity := range t.staged {
		if l, ok := entity.(*model.Lesson); ok && l.ID != "" {
			keys = append(keys, t.store.lessonKey(l.ID))
		}
	}
	if len(keys) == 0 {
		keys = append(keys, t.store.key("tx"))
	}
	return keys
}

func (t *redisTx) Rollback() {
	t.closed = true
	t.staged = nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
