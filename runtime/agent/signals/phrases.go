package signals

// repairPhrases mark a user turn as a correction, negation, or rephrase of
// something said earlier in the conversation.
var repairPhrases = []string{
	"no that's not what i meant",
	"no, that's not what i meant",
	"that's not right",
	"that's wrong",
	"i meant",
	"i didn't mean",
	"let me rephrase",
	"let me try again",
	"not what i asked",
	"not what i wanted",
	"actually i meant",
	"try again",
	"that's not it",
	"incorrect",
}

// frustrationPhrases mark a user turn as a complaint or expression of
// confusion.
var frustrationPhrases = []string{
	"this isn't working",
	"this is not working",
	"i'm confused",
	"i am confused",
	"i don't understand",
	"i do not understand",
	"this is frustrating",
	"why isn't this working",
	"still doesn't work",
	"still not working",
	"i give up",
	"this is ridiculous",
	"none of this makes sense",
	"that doesn't help",
}

// escalationPhrases mark a user turn as an explicit request to escalate,
// e.g. to a human agent or a supervisor.
var escalationPhrases = []string{
	"talk to a human",
	"speak to a human",
	"speak to a person",
	"talk to a real person",
	"connect me to a representative",
	"i want to speak to your manager",
	"let me speak to a manager",
	"escalate this",
	"this needs to be escalated",
	"get me a human",
}

// positivePhrases mark a user turn as gratitude or satisfaction.
var positivePhrases = []string{
	"thank you",
	"thanks",
	"that worked",
	"that fixed it",
	"perfect",
	"exactly what i needed",
	"this is great",
	"this helped a lot",
	"much appreciated",
	"great, thanks",
	"awesome, thank you",
}
