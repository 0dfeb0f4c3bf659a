package lmsapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/victornm/elms/internal/domain"
)

type (
	enrollmentBody struct {
		CourseID string `json:"course_id"`
		Title    string `json:"title"`
	}

	lessonBody struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	completionBody struct {
		LessonID  string `json:"lesson_id"`
		Completed bool   `json:"completed"`
	}
)

type ListEnrollmentsRequest struct {
	Username string
}

// ListEnrollments returns the courses the user is enrolled in.
func (c *Client) ListEnrollments(ctx context.Context, req ListEnrollmentsRequest) ([]domain.Course, error) {
	var bs []enrollmentBody
	p, err := resourcePath("/users/%s/enrollments", req.Username)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "list enrollments", http.MethodGet, p, nil, req.Username, nil, &bs); err != nil {
		return nil, err
	}

	courses := make([]domain.Course, 0, len(bs))
	for _, b := range bs {
		courses = append(courses, domain.Course{CourseID: b.CourseID, Title: b.Title})
	}

	return courses, nil
}

type ListLessonsRequest struct {
	Username string
	CourseID string
}

func (c *Client) ListLessons(ctx context.Context, req ListLessonsRequest) ([]domain.Lesson, error) {
	var bs []lessonBody
	p, err := resourcePath("/courses/%s/lessons", req.CourseID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "list lessons", http.MethodGet, p, nil, req.Username, nil, &bs); err != nil {
		return nil, err
	}

	lessons := make([]domain.Lesson, 0, len(bs))
	for _, b := range bs {
		lessons = append(lessons, domain.Lesson{LessonID: b.ID, Title: b.Title})
	}

	return lessons, nil
}

type ListCompletionsRequest struct {
	Username string
	CourseID string
}

// ListCompletions returns the completion flag of each lesson the LMS has a record for.
func (c *Client) ListCompletions(ctx context.Context, req ListCompletionsRequest) (map[string]bool, error) {
	var bs []completionBody
	q := url.Values{"user_id": {req.Username}}
	p, err := resourcePath("/courses/%s/completions", req.CourseID)
	if err != nil {
		return nil, err
	}
	if err = c.do(ctx, "list completions", http.MethodGet, p, q, req.Username, nil, &bs); err != nil {
		return nil, err
	}

	completions := make(map[string]bool, len(bs))
	for _, b := range bs {
		completions[b.LessonID] = b.Completed
	}

	return completions, nil
}
