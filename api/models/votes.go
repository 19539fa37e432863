package models

import "github.com/microsoft/vsts-extension-retrospectives-sub000/storage"

type CastVoteRequest struct {
	Direction string `json:"direction" binding:"required,oneof=increment decrement"`
}

type CastVoteResponse struct {
	Item      *storage.FeedbackItem `json:"item"`
	VotesCast int                   `json:"votesCast"`
	VotesLeft int                   `json:"votesLeft"`
}

func TransformVoteResult(item *storage.FeedbackItem, board *storage.FeedbackBoard, user string) CastVoteResponse {
	cast := board.VotesFor(user)
	return CastVoteResponse{
		Item:      item,
		VotesCast: cast,
		VotesLeft: board.MaxVotesPerUser - cast,
	}
}
