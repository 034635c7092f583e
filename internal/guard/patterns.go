package guard

import "regexp"

// Pattern inventories for the suspicion stage. These are deliberately cheap
// and over-broad; the verifier decides whether a hit is a real problem.

var instructionOverridePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)override\s+(system|previous|prior)\s+(prompt|instructions?|rules?)`),
	regexp.MustCompile(`(?i)new\s+(system\s+)?instructions?:`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)act\s+as\s+(a\s+)?(different|new)`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)`),
	regexp.MustCompile(`(?i)your\s+new\s+(role|persona|identity)`),
	regexp.MustCompile(`(?i)switch\s+(to|into)\s+(a\s+)?new\s+(role|mode|persona)`),
}

var roleTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)</?system>`),
	regexp.MustCompile(`(?i)</?instruction>`),
	regexp.MustCompile(`(?i)</?assistant>`),
	regexp.MustCompile(`(?i)</?tool>`),
	regexp.MustCompile(`(?i)</?function>`),
}

var secretProbePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)reveal\s+(your\s+)?(system\s+prompt|instructions|configuration)`),
	regexp.MustCompile(`(?i)(print|show|dump)\s+(your\s+)?(api\s*key|token|secret)`),
	regexp.MustCompile(`(?i)resolve\s+all\s+(threads|issues|findings)`),
}

var thinkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwait,\s+(let me|i need|actually)`),
	regexp.MustCompile(`(?i)\bactually,?\s+(no|wait|let me|i think i)`),
	regexp.MustCompile(`(?i)\bcorrection:`),
	regexp.MustCompile(`(?i)\bon second thought\b`),
	regexp.MustCompile(`(?i)\blet me (think|reconsider|check (if|whether))\b`),
	regexp.MustCompile(`(?i)\bhmm+\b`),
	regexp.MustCompile(`(?i)\bi('m| am) not sure (if|whether|about)\b`),
	regexp.MustCompile(`(?i)\bi need to (check|verify|think|reconsider)\b`),
	regexp.MustCompile(`(?i)\bhold on,?\s+(let me|i need|wait)\b`),
	regexp.MustCompile(`(?i)\bnevermind\b`),
	regexp.MustCompile(`(?i)\bignore (that|this|the above)\b`),
	regexp.MustCompile(`(?i)\bsorry,?\s+(i was wrong|let me|i meant)\b`),
	regexp.MustCompile(`(?i)\bno,?\s+wait\b`),
	regexp.MustCompile(`(?i)\.{3,}\s*(wait|actually|hmm)`),
	regexp.MustCompile(`(?i)\((thinking|checking|wait)\)`),
}

var incompletePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.\.\s*$`),
	regexp.MustCompile(`(?i)\bso\s*$`),
	regexp.MustCompile(`(?i)\bbut\s*$`),
	regexp.MustCompile(`(?i)\band\s*$`),
	regexp.MustCompile(`(?i)\bwhich means\s*$`),
	regexp.MustCompile(`:\s*$`),
}

var selfCorrectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcorrection\b`),
	regexp.MustCompile(`(?i)\bstrike that\b`),
	regexp.MustCompile(`(?i)\bscratch that\b`),
	regexp.MustCompile(`(?i)\bi was wrong\b`),
	regexp.MustCompile(`(?i)\bi misspoke\b`),
	regexp.MustCompile(`(?i)\bthat's not right\b`),
	regexp.MustCompile(`(?i)\blet me rephrase\b`),
	regexp.MustCompile(`(?i)\bto clarify what i meant\b`),
}
