package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// GetJobSubject returns the subject of the job token that authorised the
// request.
func GetJobSubject(c *fiber.Ctx) string {
	subject, _ := c.Locals("job_subject").(string)
	return subject
}
