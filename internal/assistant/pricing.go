package assistant

// Cost prices a completion in integer cents, rounding half up. Unknown
// models cost nothing.
func Cost(model string, inputTokens, outputTokens int) int {
	info, ok := models[model]
	if !ok {
		return 0
	}

	in := int64(max(inputTokens, 0))
	out := int64(max(outputTokens, 0))

	micro := in*info.inputRate + out*info.outputRate
	return int((micro + 500_000) / 1_000_000)
}
