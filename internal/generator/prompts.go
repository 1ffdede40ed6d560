package generator

import (
	"fmt"
	"strings"
)

const (
	lessonPrompt = `You are an expert instructor of %s. Write a comprehensive lesson titled '%s' for grade %d students in %s.
Include an introduction, learning objectives, detailed main content, a summary and additional resources.`

	practiceTaskPrompt = `Based on the given lesson content, write %d practice tasks for grade %d students in %s.
Each task has a short title, the task content, a difficulty of easy, medium or hard, and a step by step solution.`

	quizPrompt = `Based on the given lesson content, write a quiz with %d multiple choice questions for grade %d students in %s.
Each question has 4 options, question_type "MCQs", and correct_answer equal to one of the options.`

	feedbackPrompt = `Give step-by-step feedback in three lines on the student's quiz answers.
Correct answers: %s`
)

func buildQuizPrompt(count int, req QuizRequest) string {
	prompt := fmt.Sprintf(quizPrompt, count, req.GradeLevel, req.Language)
	if len(req.Avoid) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\nDo not reuse any of these previous questions:\n")
	for _, q := range req.Avoid {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	return b.String()
}

func lessonContentMessage(kind, content string) string {
	return fmt.Sprintf("Generate %s from the following lesson content:\n\nLesson Content: %s", kind, content)
}
