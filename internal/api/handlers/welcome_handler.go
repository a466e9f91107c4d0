package handlers

import "github.com/gofiber/fiber/v2"

type prompt struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

type welcome struct {
	Welcome string   `json:"welcome"`
	Prompts []prompt `json:"prompts"`
}

var welcomes = map[string]welcome{
	"docs": {
		Welcome: "Welcome! I can help you search documentation about Agentuity. Ask me any questions!",
		Prompts: []prompt{
			{Data: "What is Agentuity?", ContentType: fiber.MIMETextPlain},
			{Data: "What is the AI gateway?", ContentType: fiber.MIMETextPlain},
			{Data: "Are there any blogs covering agent to agent communication?", ContentType: fiber.MIMETextPlain},
		},
	},
	"competition": {
		Welcome: "Story Competition - Two AI models compete, judge picks winner with structured evaluation!",
		Prompts: []prompt{
			{Data: "A detective who solves mysteries using AI", ContentType: fiber.MIMETextPlain},
			{Data: "A space explorer discovers a planet where music is the universal language", ContentType: fiber.MIMETextPlain},
		},
	},
	"writer": {
		Welcome: "Writer agent - Generates competing stories from two model backends",
		Prompts: []prompt{},
	},
	"judge": {
		Welcome: "Judge agent - Evaluates stories with schema-validated structured outputs",
		Prompts: []prompt{},
	},
}

// Welcome returns example prompts for every agent, or for the one named by
// the agent query parameter.
func Welcome(c *fiber.Ctx) error {
	name := c.Query("agent")
	if name == "" {
		return c.JSON(welcomes)
	}
	w, ok := welcomes[name]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Unknown agent",
			"error":   name,
		})
	}
	return c.JSON(w)
}
