package service

import (
	"context"
	"eduai_backend/internal/generator"
	"eduai_backend/internal/model"
	"eduai_backend/internal/repository"
	"eduai_backend/internal/util"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quizFixture struct {
	svc     *QuizService
	store   *faultStore
	gen     *generator.MockClient
	lesson  *model.Lesson
	student *model.Student
}

func newQuizFixture(t *testing.T) *quizFixture {
	store := newFaultStore(t)
	gen := &generator.MockClient{}
	subject := seedSubject(t, store, "Math")
	lesson := seedLesson(t, store, subject.ID, "English", model.LessonDraft, 1)
	student := seedStudent(t, store, 5, "English", subject.ID)
	return &quizFixture{
		svc:     NewQuizService(store, gen, DefaultQuizPolicy(), nil),
		store:   store,
		gen:     gen,
		lesson:  lesson,
		student: student,
	}
}

func (f *quizFixture) queueQuestions(sets ...[]generator.QuestionDraft) {
	for _, set := range sets {
		f.gen.Questions = append(f.gen.Questions, generator.MockResult[[]generator.QuestionDraft]{Value: set})
	}
}

func (f *quizFixture) queueFeedback(texts ...string) {
	for _, text := range texts {
		f.gen.Feedback = append(f.gen.Feedback, generator.MockResult[string]{Value: text})
	}
}

func (f *quizFixture) versions(t *testing.T) []model.Quiz {
	t.Helper()
	res, err := f.store.QueryQuizzes(context.Background(), repository.QuizQuery{
		Index:     repository.QuizByLessonStudent,
		LessonID:  f.lesson.ID,
		StudentID: f.student.ID,
	}, repository.Page{})
	require.NoError(t, err)
	return res.Items
}

func questionTexts(q *model.Quiz) []string {
	texts := make([]string, len(q.Questions))
	for i, question := range q.Questions {
		texts[i] = question.Text
	}
	return texts
}

func TestQuizService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("first", 5), questionSet("second", 5))
	f.queueFeedback("Review equivalent fractions.", "Great work!")

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	require.False(t, assignment.Completed)
	v1 := assignment.Quiz
	assert.Equal(t, 1, v1.Version)
	assert.Len(t, v1.Questions, 5)

	require.Len(t, f.gen.QuestionCalls, 1)
	assert.Equal(t, 5, f.gen.QuestionCalls[0].GradeLevel)
	assert.Equal(t, "English", f.gen.QuestionCalls[0].Language)
	assert.Equal(t, f.lesson.ContentText(), f.gen.QuestionCalls[0].LessonContent)

	result, err := f.svc.SubmitResponses(ctx, v1.ID, f.student.ID, answers(v1, 3))
	require.NoError(t, err)
	require.NotNil(t, result.Attempt.Score)
	assert.Equal(t, 60.0, *result.Attempt.Score)
	assert.False(t, result.Attempt.Passed)
	assert.Equal(t, "Review equivalent fractions.", result.Feedback)
	require.NotNil(t, result.RegeneratedQuiz)

	v2 := result.RegeneratedQuiz
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, questionTexts(v1), questionTexts(v2), "regenerated quiz must be a fresh set")
	require.Len(t, f.gen.QuestionCalls, 2)
	assert.ElementsMatch(t, questionTexts(v1), f.gen.QuestionCalls[1].Avoid)

	// 重新获取返回的就是刚生成的第二版
	assignment, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, assignment.Quiz.ID)

	result, err = f.svc.SubmitResponses(ctx, v2.ID, f.student.ID, answers(v2, 5))
	require.NoError(t, err)
	assert.Equal(t, 100.0, *result.Attempt.Score)
	assert.True(t, result.Attempt.Passed)
	assert.Nil(t, result.RegeneratedQuiz)

	assignment, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.True(t, assignment.Completed)
	assert.Equal(t, v2.ID, assignment.Quiz.ID)

	versions := f.versions(t)
	require.Len(t, versions, 2, "version 3 is never created")
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, 2, f.gen.QuestionCallCount())
}

func TestQuizService_GetOrCreateQuiz_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("first", 3))

	first, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Quiz.ID, second.Quiz.ID)
	assert.Equal(t, 1, f.gen.QuestionCallCount())
	assert.Len(t, f.versions(t), 1)
}

func TestQuizService_AttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("a", 2), questionSet("b", 2), questionSet("c", 2))

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	quiz := assignment.Quiz

	for version := 1; version <= 3; version++ {
		require.Equal(t, version, quiz.Version)
		result, err := f.svc.SubmitResponses(ctx, quiz.ID, f.student.ID, answers(quiz, 0))
		require.NoError(t, err)
		assert.Equal(t, 0.0, *result.Attempt.Score)
		assert.False(t, result.Attempt.Passed)
		assert.Empty(t, result.Feedback, "feedback falls back to empty when the generator fails")

		if version < 3 {
			require.NotNil(t, result.RegeneratedQuiz)
			quiz = result.RegeneratedQuiz
		} else {
			assert.Nil(t, result.RegeneratedQuiz, "third failed attempt forecloses regeneration")
		}
	}

	_, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrAttemptsExhausted)
	assert.Len(t, f.versions(t), 3)
}

func TestQuizService_SubmitResponses_Validation(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("first", 2))

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	quiz := assignment.Quiz

	_, err = f.svc.SubmitResponses(ctx, "missing", f.student.ID, nil)
	assert.ErrorIs(t, err, util.ErrQuizNotFound)

	_, err = f.svc.SubmitResponses(ctx, quiz.ID, "someone-else", answers(quiz, 2))
	assert.ErrorIs(t, err, util.ErrQuizNotFound)

	_, err = f.svc.SubmitResponses(ctx, quiz.ID, f.student.ID, []ResponseReq{{QuestionID: "nope", Answer: "A"}})
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)
	assert.ErrorIs(t, err, util.ErrInvalidSubmission)

	f.queueQuestions(questionSet("second", 2))
	_, err = f.svc.SubmitResponses(ctx, quiz.ID, f.student.ID, answers(quiz, 1))
	require.NoError(t, err)

	_, err = f.svc.SubmitResponses(ctx, quiz.ID, f.student.ID, answers(quiz, 2))
	assert.ErrorIs(t, err, util.ErrQuizAlreadySubmitted)

	stored, err := f.store.GetQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, *stored.Score, "first submission is final")
}

func TestQuizService_SubmitResponses_Scoring(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)

	empty := &model.Quiz{
		LessonID:  f.lesson.ID,
		StudentID: f.student.ID,
		SubjectID: f.lesson.SubjectID,
		Version:   1,
		StartTime: time.Now(),
	}
	require.NoError(t, f.store.CreateQuiz(ctx, empty))
	f.queueQuestions(questionSet("next", 2))

	result, err := f.svc.SubmitResponses(ctx, empty.ID, f.student.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *result.Attempt.Score)
	assert.False(t, result.Attempt.Passed)

	// 重复作答同一道题只计一次
	quiz := result.RegeneratedQuiz
	require.NotNil(t, quiz)
	responses := []ResponseReq{
		{QuestionID: quiz.Questions[0].ID, Answer: " a "},
		{QuestionID: quiz.Questions[0].ID, Answer: "B"},
	}
	result, err = f.svc.SubmitResponses(ctx, quiz.ID, f.student.ID, responses)
	require.NoError(t, err)
	assert.Equal(t, 50.0, *result.Attempt.Score)
	assert.Len(t, result.Attempt.Responses, 1)
	assert.True(t, result.Attempt.Responses[0].IsCorrect)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(0, 0))
	assert.Equal(t, 100.0, Score(5, 5))
	assert.Equal(t, 60.0, Score(3, 5))
	assert.Equal(t, 66.67, Score(2, 3))
	assert.Equal(t, 0.0, Score(0, 4))
}

func TestQuizService_RegenerationFailureKeepsSubmission(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("first", 2))
	f.gen.Questions = append(f.gen.Questions, generator.MockResult[[]generator.QuestionDraft]{
		Err: &generator.ErrProviderUnavailable{Err: errors.New("503")},
	})

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)

	result, err := f.svc.SubmitResponses(ctx, assignment.Quiz.ID, f.student.ID, answers(assignment.Quiz, 0))
	require.NoError(t, err)
	assert.Nil(t, result.RegeneratedQuiz)

	stored, err := f.store.GetQuiz(ctx, assignment.Quiz.ID)
	require.NoError(t, err)
	assert.True(t, stored.Submitted())
	assert.Len(t, f.versions(t), 1)

	// 之后学生仍可主动获取下一版本
	f.queueQuestions(questionSet("second", 2))
	next, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Quiz.Version)
}

func TestQuizService_RepeatedQuestionsAreRegenerated(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("same", 3), questionSet("SAME ", 3), questionSet("fresh", 3))

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)

	result, err := f.svc.SubmitResponses(ctx, assignment.Quiz.ID, f.student.ID, answers(assignment.Quiz, 0))
	require.NoError(t, err)
	require.NotNil(t, result.RegeneratedQuiz)
	assert.Equal(t, "fresh question 1", result.RegeneratedQuiz.Questions[0].Text)
	assert.Equal(t, 3, f.gen.QuestionCallCount())
}

func TestQuizService_ConcurrentVersionAllocation(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("loser", 2))

	var winner *model.Quiz
	f.store.beforeCreateQuiz = func(ctx context.Context, quiz *model.Quiz) {
		winner = &model.Quiz{
			LessonID:  quiz.LessonID,
			StudentID: quiz.StudentID,
			SubjectID: quiz.SubjectID,
			Version:   quiz.Version,
			Questions: toQuizQuestions(questionSet("winner", 2)),
			StartTime: time.Now(),
		}
		require.NoError(t, f.store.Store.CreateQuiz(ctx, winner))
	}

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, winner.ID, assignment.Quiz.ID)
	assert.Len(t, f.versions(t), 1, "no duplicate version is persisted")
}

func TestQuizService_PolicyReload(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	f.queueQuestions(questionSet("first", 4))
	f.svc.SetPolicy(QuizPolicy{PassingScore: 50, MaxAttempts: 1})

	assignment, err := f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	require.NoError(t, err)

	result, err := f.svc.SubmitResponses(ctx, assignment.Quiz.ID, f.student.ID, answers(assignment.Quiz, 1))
	require.NoError(t, err)
	assert.False(t, result.Attempt.Passed)
	assert.Nil(t, result.RegeneratedQuiz)

	_, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrAttemptsExhausted)

	f.svc.SetPolicy(QuizPolicy{PassingScore: 50, MaxAttempts: 0})
	assert.Equal(t, 1, f.svc.Policy().MaxAttempts)
}

func TestQuizService_GetOrCreateQuiz_Errors(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	pending := seedLesson(t, f.store, f.lesson.SubjectID, "English", model.LessonPending, 2)

	_, err := f.svc.GetOrCreateQuiz(ctx, "missing", f.student.ID)
	assert.ErrorIs(t, err, util.ErrLessonNotFound)

	_, err = f.svc.GetOrCreateQuiz(ctx, pending.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrLessonNotReady)

	_, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, "missing")
	assert.ErrorIs(t, err, util.ErrStudentNotFound)

	f.gen.Questions = []generator.MockResult[[]generator.QuestionDraft]{{Err: &generator.ErrRateLimit{Err: errors.New("429")}}}
	_, err = f.svc.GetOrCreateQuiz(ctx, f.lesson.ID, f.student.ID)
	assert.ErrorIs(t, err, generator.ErrGenerationFailed)
}

func TestQuizService_ListAttempts(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	other := seedLesson(t, f.store, f.lesson.SubjectID, "English", model.LessonDraft, 2)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedAttempt(t, f.store, f.lesson, f.student.ID, 1, 40, false, base)
	seedAttempt(t, f.store, f.lesson, f.student.ID, 2, 90, true, base.Add(time.Hour))
	seedAttempt(t, f.store, other, f.student.ID, 1, 80, true, base.Add(2*time.Hour))

	all, err := f.svc.ListAttempts(ctx, f.student.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byLesson, err := f.svc.ListAttempts(ctx, f.student.ID, f.lesson.ID)
	require.NoError(t, err)
	require.Len(t, byLesson, 2)
	assert.Equal(t, 1, byLesson[0].Version)
	assert.Equal(t, 2, byLesson[1].Version)
}

func TestQuizService_GetAttempt(t *testing.T) {
	ctx := context.Background()
	f := newQuizFixture(t)
	stranger := seedStudent(t, f.store, 5, "English", f.lesson.SubjectID)
	attempt := seedAttempt(t, f.store, f.lesson, f.student.ID, 1, 40, false, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	got, err := f.svc.GetAttempt(ctx, attempt.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, got.ID)
	assert.Equal(t, 1, got.Version)
	require.NotNil(t, got.Score)
	assert.Equal(t, 40.0, *got.Score)

	_, err = f.svc.GetAttempt(ctx, attempt.ID, stranger.ID)
	assert.ErrorIs(t, err, util.ErrQuizNotFound, "another student's attempt is indistinguishable from a missing one")

	_, err = f.svc.GetAttempt(ctx, "missing", f.student.ID)
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
	assert.ErrorIs(t, err, util.ErrNotFound)
}
